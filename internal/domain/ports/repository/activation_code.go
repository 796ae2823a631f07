package repository

import (
	"context"
	"time"

	"activation-service/internal/domain/model"
)

// ActivationCodeRepository is the port for the persistent Code Store.
// Every mutation that guards an invariant is a single conditional statement
// so concurrent callers coordinate through the store, not through locks.
type ActivationCodeRepository interface {
	// Save inserts a new code. Returns domain.ErrAlreadyExists if the code is taken.
	Save(ctx context.Context, tx Tx, code *model.ActivationCode) error
	// FindByCode returns the code regardless of its state, or domain.ErrNotFound.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.ActivationCode, error)
	// FindByApp returns a code currently bound to appID, or domain.ErrNotFound.
	FindByApp(ctx context.Context, tx Tx, appID string) (*model.ActivationCode, error)
	// UpdateBinding binds an unbound code to an app that owns no other code.
	// It reports false when either condition no longer holds at write time.
	UpdateBinding(ctx context.Context, tx Tx, code, appID string) (bool, error)
	// IncrementUsage adds one use when the code is bound to appID, not revoked,
	// not expired at now and under quota. It reports false otherwise.
	IncrementUsage(ctx context.Context, tx Tx, code, appID string, now time.Time) (bool, error)
	// Revoke marks the code revoked. Returns domain.ErrNotFound for unknown codes.
	Revoke(ctx context.Context, tx Tx, code string) error
	UnbindByApp(ctx context.Context, tx Tx, appID string) (bool, error)
	Delete(ctx context.Context, tx Tx, code string) (bool, error)
	// List returns codes newest first.
	List(ctx context.Context, tx Tx, limit, offset int) ([]*model.ActivationCode, error)
	Count(ctx context.Context, tx Tx) (int, error)
}
