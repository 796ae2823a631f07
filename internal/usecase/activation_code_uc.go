package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activation-service/internal/domain"
	"activation-service/internal/domain/model"
	"activation-service/internal/domain/ports/repository"
	"activation-service/internal/infra/logging"
	"activation-service/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ ActivationCodeUseCase = (*activationCodeUC)(nil)

// ActivationCodeUseCase drives the activation code lifecycle: issuance,
// one-time binding, usage-counted validation, revocation, unbinding and deletion.
type ActivationCodeUseCase interface {
	Generate(ctx context.Context, params model.GenerateParams) (*model.ActivationCode, error)
	Bind(ctx context.Context, code, appID string) error
	Validate(ctx context.Context, code, appID string) (bool, error)
	Revoke(ctx context.Context, code string) error
	Unbind(ctx context.Context, appID string) error
	Delete(ctx context.Context, code string) error
	BulkGenerate(ctx context.Context, appID string, count int, expiresAt *time.Time, maxUses *int) (*BulkResult, error)
	Get(ctx context.Context, code string) (*model.ActivationCode, error)
	List(ctx context.Context, limit, offset int) (*CodePage, error)
}

// CodeOptions tunes generation and listing.
type CodeOptions struct {
	DefaultLength    int
	Alphabet         string
	MaxRetries       int
	MaxBulk          int
	DefaultListLimit int
	MaxListLimit     int
	Dev              bool // log codes unredacted
}

// CodePage is one page of List with the effective paging parameters.
type CodePage struct {
	Items  []*model.ActivationCode
	Total  int
	Limit  int
	Offset int
}

// BulkResult is the outcome of one bulk issuance.
type BulkResult struct {
	BatchID string
	Codes   []string
}

const validResult = "valid"

// rejectionReasons maps validation rejections to their log reason and metric label.
var rejectionReasons = map[error]string{
	domain.ErrChecksumMismatch: "checksum_mismatch",
	domain.ErrCodeNotFound:     "not_found",
	domain.ErrAppMismatch:      "app_mismatch",
	domain.ErrRevoked:          "revoked",
	domain.ErrExpired:          "expired",
	domain.ErrQuotaExceeded:    "quota_exceeded",
	domain.ErrConditionChanged: "condition_changed",
}

type activationCodeUC struct {
	codes repository.ActivationCodeRepository
	tm    repository.TransactionManager
	opts  CodeOptions
	log   *zerolog.Logger
	now   func() time.Time
}

func NewActivationCodeUseCase(codes repository.ActivationCodeRepository, tm repository.TransactionManager, opts CodeOptions, logger *zerolog.Logger) *activationCodeUC {
	if opts.DefaultLength <= 0 {
		opts.DefaultLength = 16
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	if opts.MaxBulk <= 0 {
		opts.MaxBulk = 1000
	}
	if opts.DefaultListLimit <= 0 {
		opts.DefaultListLimit = 100
	}
	if opts.MaxListLimit < opts.DefaultListLimit {
		opts.MaxListLimit = opts.DefaultListLimit
	}
	ucLog := logger.With().Str("component", "ActivationCodeUC").Logger()
	return &activationCodeUC{
		codes: codes,
		tm:    tm,
		opts:  opts,
		log:   &ucLog,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Generate creates a unique unbound code and persists it.
func (u *activationCodeUC) Generate(ctx context.Context, params model.GenerateParams) (*model.ActivationCode, error) {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Generate")()

	if params.MaxUses != nil && *params.MaxUses < 1 {
		return nil, fmt.Errorf("%w: max_uses must be at least 1", domain.ErrInvalidArgument)
	}
	if params.Alphabet == "" {
		params.Alphabet = u.opts.Alphabet
	}

	code, err := u.generateUnique(ctx, repository.NoTX, params, nil)
	if err != nil {
		return nil, err
	}
	metrics.IncCodesGenerated("single", 1)
	logging.With(ctx, u.log).Info().
		Str("code", logging.Redact(code.Code, u.opts.Dev)).
		Msg("activation code generated")
	return code, nil
}

// generateUnique retries until the store accepts a fresh code or retries run out.
func (u *activationCodeUC) generateUnique(ctx context.Context, tx repository.Tx, params model.GenerateParams, appID *string) (*model.ActivationCode, error) {
	for attempt := 1; attempt <= u.opts.MaxRetries; attempt++ {
		raw, err := GenerateCode(params.Length, params.Prefix, params.Suffix, params.WithChecksum, params.Alphabet)
		if err != nil {
			return nil, err
		}

		_, err = u.codes.FindByCode(ctx, tx, raw)
		if err == nil {
			u.log.Debug().Int("attempt", attempt).Msg("generated code collides with an existing one")
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		ac := model.NewActivationCode(raw, params.ExpiresAt, params.MaxUses)
		ac.AppID = appID
		if err := u.codes.Save(ctx, tx, ac); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				u.log.Debug().Int("attempt", attempt).Msg("code taken between lookup and insert")
				continue
			}
			return nil, err
		}
		return ac, nil
	}
	return nil, domain.ErrExhaustedRetries
}

// Bind attaches an unbound code to appID. Each rejection is a distinct domain error.
// Binding is one-shot: rebinding to the same app fails with ErrAlreadyBound.
func (u *activationCodeUC) Bind(ctx context.Context, code, appID string) error {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Bind")()
	l := logging.With(ctx, u.log)

	if code == "" || appID == "" {
		return fmt.Errorf("%w: activation_code and app_id are required", domain.ErrInvalidArgument)
	}

	err := u.bind(ctx, code, appID)
	metrics.IncBind(bindResult(err))
	switch {
	case err == nil:
		l.Info().Str("code", logging.Redact(code, u.opts.Dev)).Str("app_id", appID).Msg("activation code bound")
	case errors.Is(err, domain.ErrTransientStore):
		l.Error().Err(err).Msg("bind failed on store")
	default:
		l.Info().Str("code", logging.Redact(code, u.opts.Dev)).Str("app_id", appID).Str("reason", err.Error()).Msg("bind rejected")
	}
	return err
}

func (u *activationCodeUC) bind(ctx context.Context, code, appID string) error {
	stored, err := u.codes.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCodeNotFound
		}
		return err
	}
	if stored.IsRevoked {
		return domain.ErrRevoked
	}
	if stored.IsBound() {
		return domain.ErrAlreadyBound
	}

	owned, err := u.codes.FindByApp(ctx, repository.NoTX, appID)
	switch {
	case err == nil && owned.Code != code:
		return domain.ErrAppAlreadyBound
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}

	if stored.IsExpired(u.now()) {
		return domain.ErrExpired
	}
	if stored.IsExhausted() {
		return domain.ErrQuotaExceeded
	}

	ok, err := u.codes.UpdateBinding(ctx, repository.NoTX, code, appID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Lost a race: find out which side moved.
	latest, err := u.codes.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCodeNotFound
		}
		return err
	}
	if latest.IsBound() {
		return domain.ErrAlreadyBound
	}
	return domain.ErrAppAlreadyBound
}

// Validate reports whether code is currently usable by appID and records one use
// when it is. Rejections are normal outcomes: they return false with a nil error
// and the reason is only logged. Errors are reserved for store failures.
func (u *activationCodeUC) Validate(ctx context.Context, code, appID string) (bool, error) {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Validate")()
	l := logging.With(ctx, u.log)

	err := u.validate(ctx, code, appID)
	if err == nil {
		metrics.IncValidation(validResult)
		l.Debug().Str("code", logging.Redact(code, u.opts.Dev)).Str("app_id", appID).Msg("activation code valid, usage recorded")
		return true, nil
	}
	if reason, ok := rejectionReasons[err]; ok {
		metrics.IncValidation(reason)
		l.Debug().Str("code", logging.Redact(code, u.opts.Dev)).Str("app_id", appID).Str("reason", reason).Msg("activation code rejected")
		return false, nil
	}
	metrics.IncValidation("error")
	l.Error().Err(err).Msg("validation failed on store")
	return false, err
}

// validate returns nil after recording a use, a rejectionReasons key when the
// code is unusable, or a store error.
func (u *activationCodeUC) validate(ctx context.Context, code, appID string) error {
	if code == "" || appID == "" {
		return domain.ErrCodeNotFound
	}
	if !ValidateChecksum(code) {
		return domain.ErrChecksumMismatch
	}

	// The checksum segment is part of the primary key.
	stored, err := u.codes.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCodeNotFound
		}
		return err
	}

	now := u.now()
	switch {
	case !stored.BoundTo(appID):
		return domain.ErrAppMismatch
	case stored.IsRevoked:
		return domain.ErrRevoked
	case stored.IsExpired(now):
		return domain.ErrExpired
	case stored.IsExhausted():
		return domain.ErrQuotaExceeded
	}

	// The increment re-checks every condition atomically, so two callers racing
	// for the last use cannot both win.
	ok, err := u.codes.IncrementUsage(ctx, repository.NoTX, code, appID, now)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConditionChanged
	}
	return nil
}

// Revoke disables future validation of code. Revoking twice is a no-op.
func (u *activationCodeUC) Revoke(ctx context.Context, code string) error {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Revoke")()

	err := u.codes.Revoke(ctx, repository.NoTX, code)
	if errors.Is(err, domain.ErrNotFound) {
		err = domain.ErrCodeNotFound
	}
	metrics.IncLifecycle("revoke", outcome(err))
	if err != nil {
		return err
	}
	logging.With(ctx, u.log).Info().Str("code", logging.Redact(code, u.opts.Dev)).Msg("activation code revoked")
	return nil
}

// Unbind clears whichever binding appID currently holds.
func (u *activationCodeUC) Unbind(ctx context.Context, appID string) error {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Unbind")()

	if appID == "" {
		return fmt.Errorf("%w: app_id is required", domain.ErrInvalidArgument)
	}
	ok, err := u.codes.UnbindByApp(ctx, repository.NoTX, appID)
	if err == nil && !ok {
		err = domain.ErrNoBinding
	}
	metrics.IncLifecycle("unbind", outcome(err))
	if err != nil {
		return err
	}
	logging.With(ctx, u.log).Info().Str("app_id", appID).Msg("activation code unbound")
	return nil
}

// Delete removes code permanently.
func (u *activationCodeUC) Delete(ctx context.Context, code string) error {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Delete")()

	ok, err := u.codes.Delete(ctx, repository.NoTX, code)
	if err == nil && !ok {
		err = domain.ErrCodeNotFound
	}
	metrics.IncLifecycle("delete", outcome(err))
	if err != nil {
		return err
	}
	logging.With(ctx, u.log).Info().Str("code", logging.Redact(code, u.opts.Dev)).Msg("activation code deleted")
	return nil
}

// BulkGenerate issues count codes pre-bound to appID in one transaction.
// Either every code is persisted or none is.
func (u *activationCodeUC) BulkGenerate(ctx context.Context, appID string, count int, expiresAt *time.Time, maxUses *int) (*BulkResult, error) {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.BulkGenerate")()

	if appID == "" {
		return nil, fmt.Errorf("%w: app_id is required", domain.ErrInvalidArgument)
	}
	if count < 1 || count > u.opts.MaxBulk {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", domain.ErrInvalidArgument, u.opts.MaxBulk)
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, fmt.Errorf("%w: max_uses must be at least 1", domain.ErrInvalidArgument)
	}

	params := model.GenerateParams{
		Length:       u.opts.DefaultLength,
		WithChecksum: true,
		Alphabet:     u.opts.Alphabet,
		ExpiresAt:    expiresAt,
		MaxUses:      maxUses,
	}
	res := &BulkResult{BatchID: ulid.Make().String()}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res.Codes = make([]string, 0, count)
		for i := 0; i < count; i++ {
			ac, err := u.generateUnique(ctx, tx, params, &appID)
			if err != nil {
				return err
			}
			res.Codes = append(res.Codes, ac.Code)
		}
		return nil
	})
	if err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("batch_id", res.BatchID).Msg("bulk generation failed")
		return nil, err
	}

	metrics.IncCodesGenerated("bulk", len(res.Codes))
	logging.With(ctx, u.log).Info().
		Str("batch_id", res.BatchID).
		Str("app_id", appID).
		Int("count", len(res.Codes)).
		Msg("activation codes issued in bulk")
	return res, nil
}

func (u *activationCodeUC) Get(ctx context.Context, code string) (*model.ActivationCode, error) {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.Get")()

	ac, err := u.codes.FindByCode(ctx, repository.NoTX, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrCodeNotFound
	}
	return ac, err
}

// List returns a page of codes, newest first, plus the total count.
func (u *activationCodeUC) List(ctx context.Context, limit, offset int) (*CodePage, error) {
	defer logging.TraceDuration(u.log, "ActivationCodeUC.List")()

	if limit <= 0 {
		limit = u.opts.DefaultListLimit
	}
	if limit > u.opts.MaxListLimit {
		limit = u.opts.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	codes, err := u.codes.List(ctx, repository.NoTX, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := u.codes.Count(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return &CodePage{Items: codes, Total: total, Limit: limit, Offset: offset}, nil
}

func bindResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyBound):
		return "already_bound"
	case errors.Is(err, domain.ErrAppAlreadyBound):
		return "app_already_bound"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, domain.ErrRevoked):
		return "revoked"
	default:
		return "error"
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrCodeNotFound), errors.Is(err, domain.ErrNoBinding):
		return "not_found"
	default:
		return "error"
	}
}
