//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"activation-service/internal/domain"
	"activation-service/internal/domain/model"
	"activation-service/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- In-memory ActivationCodeRepository ----

// MockCodeRepo mirrors the conditional-update semantics of the Postgres store:
// every guarded mutation checks and writes under one lock.
type MockCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*model.ActivationCode

	// Optional overrides for failure injection.
	SaveFunc           func(ctx context.Context, ac *model.ActivationCode) error
	FindByCodeFunc     func(ctx context.Context, code string) (*model.ActivationCode, error)
	UpdateBindingFunc  func(ctx context.Context, code, appID string) (bool, error)
	IncrementUsageFunc func(ctx context.Context, code, appID string, now time.Time) (bool, error)

	Calls struct {
		Save           int
		IncrementUsage int
	}
}

var _ repository.ActivationCodeRepository = (*MockCodeRepo)(nil)

func NewMockCodeRepo() *MockCodeRepo {
	return &MockCodeRepo{codes: make(map[string]*model.ActivationCode)}
}

func clone(ac *model.ActivationCode) *model.ActivationCode {
	cp := *ac
	if ac.AppID != nil {
		id := *ac.AppID
		cp.AppID = &id
	}
	if ac.ExpiresAt != nil {
		t := *ac.ExpiresAt
		cp.ExpiresAt = &t
	}
	if ac.MaxUses != nil {
		n := *ac.MaxUses
		cp.MaxUses = &n
	}
	return &cp
}

// Seed stores ac directly, bypassing Save accounting.
func (m *MockCodeRepo) Seed(ac *model.ActivationCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[ac.Code] = clone(ac)
}

// Peek returns a copy of the stored record, or nil.
func (m *MockCodeRepo) Peek(code string) *model.ActivationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ac, ok := m.codes[code]; ok {
		return clone(ac)
	}
	return nil
}

func (m *MockCodeRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

func (m *MockCodeRepo) snapshot() map[string]*model.ActivationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.ActivationCode, len(m.codes))
	for k, v := range m.codes {
		out[k] = clone(v)
	}
	return out
}

func (m *MockCodeRepo) restore(s map[string]*model.ActivationCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = s
}

func (m *MockCodeRepo) Save(ctx context.Context, tx repository.Tx, ac *model.ActivationCode) error {
	m.mu.Lock()
	m.Calls.Save++
	m.mu.Unlock()
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, ac); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[ac.Code]; ok {
		return domain.ErrAlreadyExists
	}
	m.codes[ac.Code] = clone(ac)
	return nil
}

func (m *MockCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	if m.FindByCodeFunc != nil {
		return m.FindByCodeFunc(ctx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(ac), nil
}

func (m *MockCodeRepo) FindByApp(ctx context.Context, tx repository.Tx, appID string) (*model.ActivationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ac := range m.codes {
		if ac.BoundTo(appID) {
			return clone(ac), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockCodeRepo) UpdateBinding(ctx context.Context, tx repository.Tx, code, appID string) (bool, error) {
	if m.UpdateBindingFunc != nil {
		return m.UpdateBindingFunc(ctx, code, appID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.codes[code]
	if !ok || ac.IsBound() {
		return false, nil
	}
	for _, other := range m.codes {
		if other.BoundTo(appID) {
			return false, nil
		}
	}
	id := appID
	ac.AppID = &id
	return true, nil
}

func (m *MockCodeRepo) IncrementUsage(ctx context.Context, tx repository.Tx, code, appID string, now time.Time) (bool, error) {
	m.mu.Lock()
	m.Calls.IncrementUsage++
	m.mu.Unlock()
	if m.IncrementUsageFunc != nil {
		return m.IncrementUsageFunc(ctx, code, appID, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.codes[code]
	if !ok || !ac.BoundTo(appID) || ac.IsRevoked || ac.IsExpired(now) || ac.IsExhausted() {
		return false, nil
	}
	ac.CurrentUses++
	return true, nil
}

func (m *MockCodeRepo) Revoke(ctx context.Context, tx repository.Tx, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.codes[code]
	if !ok {
		return domain.ErrNotFound
	}
	ac.IsRevoked = true
	return nil
}

func (m *MockCodeRepo) UnbindByApp(ctx context.Context, tx repository.Tx, appID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, ac := range m.codes {
		if ac.BoundTo(appID) {
			ac.AppID = nil
			found = true
		}
	}
	return found, nil
}

func (m *MockCodeRepo) Delete(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[code]; !ok {
		return false, nil
	}
	delete(m.codes, code)
	return true, nil
}

func (m *MockCodeRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.ActivationCode, error) {
	m.mu.Lock()
	all := make([]*model.ActivationCode, 0, len(m.codes))
	for _, ac := range m.codes {
		all = append(all, clone(ac))
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Code < all[j].Code
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*model.ActivationCode{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MockCodeRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	return m.Len(), nil
}

// =============================
// Transactions
// =============================

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// NewRollbackTxManager restores repo to its pre-transaction contents when fn fails.
func NewRollbackTxManager(repo *MockCodeRepo) *MockTxManager {
	return &MockTxManager{
		WithTxFunc: func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
			before := repo.snapshot()
			if err := fn(ctx, repository.NoTX); err != nil {
				repo.restore(before)
				return err
			}
			return nil
		},
	}
}

// =============================
// Helpers
// =============================

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func ptr[T any](v T) *T { return &v }
