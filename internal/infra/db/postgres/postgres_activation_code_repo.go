package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"activation-service/internal/domain"
	"activation-service/internal/domain/model"
	"activation-service/internal/domain/ports/repository"
)

// Ensure implementation satisfies the interface.
var _ repository.ActivationCodeRepository = (*activationCodeRepo)(nil)

const activationCodeColumns = `code, app_id, created_at, expires_at, max_uses, current_uses, is_revoked`

type activationCodeRepo struct {
	pool         *pgxpool.Pool
	tm           *TxManager
	queryTimeout time.Duration
}

// NewActivationCodeRepo returns the Postgres code store. A positive
// queryTimeout bounds every statement; expiry surfaces as domain.ErrTransientStore.
func NewActivationCodeRepo(pool *pgxpool.Pool, queryTimeout time.Duration) *activationCodeRepo {
	return &activationCodeRepo{pool: pool, tm: NewTxManager(pool), queryTimeout: queryTimeout}
}

func (r *activationCodeRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Save inserts a new code. Existing codes are never overwritten.
func (r *activationCodeRepo) Save(ctx context.Context, tx repository.Tx, ac *model.ActivationCode) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const q = `
INSERT INTO activation_codes (code, app_id, created_at, expires_at, max_uses, current_uses, is_revoked)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (code) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		ac.Code, ac.AppID, ac.CreatedAt, ac.ExpiresAt, ac.MaxUses, ac.CurrentUses, ac.IsRevoked,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *activationCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const q = `SELECT ` + activationCodeColumns + ` FROM activation_codes WHERE code = $1;`
	return r.queryOne(ctx, tx, q, code)
}

// FindByApp returns the most recently created code bound to appID.
func (r *activationCodeRepo) FindByApp(ctx context.Context, tx repository.Tx, appID string) (*model.ActivationCode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const q = `
SELECT ` + activationCodeColumns + `
  FROM activation_codes
 WHERE app_id = $1
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, appID)
}

// UpdateBinding serialises binds per app with an advisory lock, then binds only
// when the code is still free and the app still owns nothing. Without a caller
// transaction it opens its own so the lock has a scope.
func (r *activationCodeRepo) UpdateBinding(ctx context.Context, tx repository.Tx, code, appID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if tx != nil {
		return r.updateBinding(ctx, tx, code, appID)
	}
	var bound bool
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		bound, err = r.updateBinding(ctx, tx, code, appID)
		return err
	})
	return bound, err
}

func (r *activationCodeRepo) updateBinding(ctx context.Context, tx repository.Tx, code, appID string) (bool, error) {
	if _, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1)`, hashToInt64("bind:"+appID)); err != nil {
		return false, err
	}

	const q = `
UPDATE activation_codes
   SET app_id = $2
 WHERE code = $1
   AND app_id IS NULL
   AND NOT EXISTS (SELECT 1 FROM activation_codes WHERE app_id = $2);`
	tag, err := execSQL(ctx, r.pool, tx, q, code, appID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementUsage re-checks ownership, revocation, expiry and quota in the
// same statement that bumps the counter.
func (r *activationCodeRepo) IncrementUsage(ctx context.Context, tx repository.Tx, code, appID string, now time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const q = `
UPDATE activation_codes
   SET current_uses = current_uses + 1
 WHERE code = $1
   AND app_id = $2
   AND is_revoked = FALSE
   AND (expires_at IS NULL OR expires_at > $3)
   AND (max_uses IS NULL OR current_uses < max_uses);`
	tag, err := execSQL(ctx, r.pool, tx, q, code, appID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *activationCodeRepo) Revoke(ctx context.Context, tx repository.Tx, code string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := execSQL(ctx, r.pool, tx, `UPDATE activation_codes SET is_revoked = TRUE WHERE code = $1;`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *activationCodeRepo) UnbindByApp(ctx context.Context, tx repository.Tx, appID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := execSQL(ctx, r.pool, tx, `UPDATE activation_codes SET app_id = NULL WHERE app_id = $1;`, appID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *activationCodeRepo) Delete(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM activation_codes WHERE code = $1;`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *activationCodeRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.ActivationCode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	const q = `
SELECT ` + activationCodeColumns + `
  FROM activation_codes
 ORDER BY created_at DESC, code
 LIMIT $1 OFFSET $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.ActivationCode, 0, limit)
	for rows.Next() {
		ac, err := scanActivationCode(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, ac)
	}
	return out, classify(rows.Err())
}

func (r *activationCodeRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM activation_codes;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *activationCodeRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.ActivationCode, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	ac, err := scanActivationCode(row)
	if err != nil {
		return nil, classify(err)
	}
	return ac, nil
}

func scanActivationCode(row pgx.Row) (*model.ActivationCode, error) {
	var ac model.ActivationCode
	if err := row.Scan(&ac.Code, &ac.AppID, &ac.CreatedAt, &ac.ExpiresAt, &ac.MaxUses, &ac.CurrentUses, &ac.IsRevoked); err != nil {
		return nil, err
	}
	ac.CreatedAt = ac.CreatedAt.UTC()
	if ac.ExpiresAt != nil {
		t := ac.ExpiresAt.UTC()
		ac.ExpiresAt = &t
	}
	return &ac, nil
}
