//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"activation-service/internal/domain"
	"activation-service/internal/domain/model"
	"activation-service/internal/infra/api"
	"activation-service/internal/usecase"
)

//
// ---------------- mocks ----------------
//

type mockCodesUC struct {
	GenerateFunc     func(ctx context.Context, p model.GenerateParams) (*model.ActivationCode, error)
	BindFunc         func(ctx context.Context, code, appID string) error
	ValidateFunc     func(ctx context.Context, code, appID string) (bool, error)
	RevokeFunc       func(ctx context.Context, code string) error
	UnbindFunc       func(ctx context.Context, appID string) error
	DeleteFunc       func(ctx context.Context, code string) error
	BulkGenerateFunc func(ctx context.Context, appID string, count int, expiresAt *time.Time, maxUses *int) (*usecase.BulkResult, error)
	GetFunc          func(ctx context.Context, code string) (*model.ActivationCode, error)
	ListFunc         func(ctx context.Context, limit, offset int) (*usecase.CodePage, error)

	lastGenerate model.GenerateParams
}

var _ usecase.ActivationCodeUseCase = (*mockCodesUC)(nil)

func (m *mockCodesUC) Generate(ctx context.Context, p model.GenerateParams) (*model.ActivationCode, error) {
	m.lastGenerate = p
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, p)
	}
	return model.NewActivationCode("GENERATED-abcd", p.ExpiresAt, p.MaxUses), nil
}

func (m *mockCodesUC) Bind(ctx context.Context, code, appID string) error {
	if m.BindFunc != nil {
		return m.BindFunc(ctx, code, appID)
	}
	return nil
}

func (m *mockCodesUC) Validate(ctx context.Context, code, appID string) (bool, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, code, appID)
	}
	return true, nil
}

func (m *mockCodesUC) Revoke(ctx context.Context, code string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, code)
	}
	return nil
}

func (m *mockCodesUC) Unbind(ctx context.Context, appID string) error {
	if m.UnbindFunc != nil {
		return m.UnbindFunc(ctx, appID)
	}
	return nil
}

func (m *mockCodesUC) Delete(ctx context.Context, code string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, code)
	}
	return nil
}

func (m *mockCodesUC) BulkGenerate(ctx context.Context, appID string, count int, expiresAt *time.Time, maxUses *int) (*usecase.BulkResult, error) {
	if m.BulkGenerateFunc != nil {
		return m.BulkGenerateFunc(ctx, appID, count, expiresAt, maxUses)
	}
	codes := make([]string, count)
	for i := range codes {
		codes[i] = "BULK"
	}
	return &usecase.BulkResult{BatchID: "01BATCH", Codes: codes}, nil
}

func (m *mockCodesUC) Get(ctx context.Context, code string) (*model.ActivationCode, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, code)
	}
	return nil, domain.ErrCodeNotFound
}

func (m *mockCodesUC) List(ctx context.Context, limit, offset int) (*usecase.CodePage, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return &usecase.CodePage{Items: []*model.ActivationCode{}, Limit: 100}, nil
}

type mockLimiter struct {
	mu    sync.Mutex
	allow bool
	err   error
	keys  []string
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return m.allow, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

//
// -------------------- helpers --------------------
//

const testKey = "s3cret-key"

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func newRouter(uc *mockCodesUC, lim *mockLimiter) http.Handler {
	srv := api.NewServer(uc, lim, mockPinger{}, api.Options{
		APIKey:     testKey,
		RatePeriod: time.Minute,
	}, newLogger())
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if withKey {
		req.Header.Set("X-API-Key", testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v (body=%s)", err, rec.Body.String())
	}
}

//
// -------------------- tests --------------------
//

func TestGenerate(t *testing.T) {
	t.Run("applies defaults and returns the code", func(t *testing.T) {
		uc := &mockCodesUC{}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/generate", `{"app_id":"app-1"}`, true)

		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var body struct {
			ActivationCode string `json:"activation_code"`
		}
		decode(t, rec, &body)
		if body.ActivationCode != "GENERATED-abcd" {
			t.Fatalf("unexpected code %q", body.ActivationCode)
		}
		if uc.lastGenerate.Length != 16 || !uc.lastGenerate.WithChecksum {
			t.Errorf("expected length 16 with checksum, got %+v", uc.lastGenerate)
		}
		if uc.lastGenerate.ExpiresAt != nil || uc.lastGenerate.MaxUses != nil {
			t.Errorf("expected no expiry or quota, got %+v", uc.lastGenerate)
		}
	})

	t.Run("passes explicit options through", func(t *testing.T) {
		uc := &mockCodesUC{}
		body := `{"length":8,"prefix":"X","suffix":"Y","with_checksum":false,"expires_in_days":3,"max_uses":2}`
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/generate", body, true)

		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		p := uc.lastGenerate
		if p.Length != 8 || p.Prefix != "X" || p.Suffix != "Y" || p.WithChecksum {
			t.Errorf("unexpected params %+v", p)
		}
		if p.MaxUses == nil || *p.MaxUses != 2 {
			t.Errorf("expected max_uses 2, got %v", p.MaxUses)
		}
		if p.ExpiresAt == nil || time.Until(*p.ExpiresAt) < 71*time.Hour {
			t.Errorf("expected expiry about three days out, got %v", p.ExpiresAt)
		}
	})

	t.Run("rejects invalid input with 400", func(t *testing.T) {
		rec := do(t, newRouter(&mockCodesUC{}, &mockLimiter{allow: true}), http.MethodPost, "/generate", `{"length":0}`, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("expiry is capped at 36500 days", func(t *testing.T) {
		called := false
		uc := &mockCodesUC{GenerateFunc: func(ctx context.Context, p model.GenerateParams) (*model.ActivationCode, error) {
			called = true
			return model.NewActivationCode("X", p.ExpiresAt, p.MaxUses), nil
		}}
		h := newRouter(uc, &mockLimiter{allow: true})

		rec := do(t, h, http.MethodPost, "/generate", `{"expires_in_days":200000}`, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d, body=%s", rec.Code, rec.Body.String())
		}
		if called {
			t.Fatal("expected the code not to be generated")
		}
	})

	t.Run("longest expiry lands in the future", func(t *testing.T) {
		uc := &mockCodesUC{}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/generate", `{"expires_in_days":36500}`, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		exp := uc.lastGenerate.ExpiresAt
		if exp == nil || exp.Before(time.Now().AddDate(99, 0, 0)) {
			t.Errorf("expected expiry about a century out, got %v", exp)
		}
	})

	t.Run("requires an API key", func(t *testing.T) {
		h := newRouter(&mockCodesUC{}, &mockLimiter{allow: true})

		if rec := do(t, h, http.MethodPost, "/generate", `{}`, false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("missing key: want 401, got %d", rec.Code)
		}

		req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{}`))
		req.Header.Set("X-API-Key", "wrong")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("wrong key: want 403, got %d", rec.Code)
		}
	})

	t.Run("maps store outages to 503", func(t *testing.T) {
		uc := &mockCodesUC{GenerateFunc: func(ctx context.Context, p model.GenerateParams) (*model.ActivationCode, error) {
			return nil, domain.ErrTransientStore
		}}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/generate", `{}`, true)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("want 503, got %d", rec.Code)
		}
	})
}

func TestBind(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"success", nil, http.StatusOK, "Activation code bound successfully"},
		{"unknown code", domain.ErrCodeNotFound, http.StatusBadRequest, "Activation code does not exist"},
		{"already bound", domain.ErrAlreadyBound, http.StatusBadRequest, "Activation code has already been used"},
		{"app already bound", domain.ErrAppAlreadyBound, http.StatusBadRequest, "App ID is already bound to another activation code"},
		{"expired", domain.ErrExpired, http.StatusBadRequest, "Activation code has expired"},
		{"exhausted", domain.ErrQuotaExceeded, http.StatusBadRequest, "Activation code has reached maximum uses"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Failed to bind activation code"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			uc := &mockCodesUC{BindFunc: func(ctx context.Context, code, appID string) error { return tc.err }}
			rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/bind", `{"activation_code":"C","app_id":"A"}`, false)

			if rec.Code != tc.wantStatus {
				t.Fatalf("want %d, got %d, body=%s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			var body struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			decode(t, rec, &body)
			if body.Success != (tc.err == nil) || body.Message != tc.wantMsg {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}

	t.Run("missing fields are a 400", func(t *testing.T) {
		rec := do(t, newRouter(&mockCodesUC{}, &mockLimiter{allow: true}), http.MethodPost, "/bind", `{"activation_code":"C"}`, false)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid code", func(t *testing.T) {
		rec := do(t, newRouter(&mockCodesUC{}, &mockLimiter{allow: true}), http.MethodPost, "/validate", `{"activation_code":"C","app_id":"A"}`, false)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var body struct {
			Valid bool `json:"valid"`
		}
		decode(t, rec, &body)
		if !body.Valid {
			t.Fatal("expected valid=true")
		}
	})

	t.Run("invalid code is a 400 without a reason", func(t *testing.T) {
		uc := &mockCodesUC{ValidateFunc: func(ctx context.Context, code, appID string) (bool, error) { return false, nil }}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/validate", `{"activation_code":"C","app_id":"A"}`, false)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
		var body struct {
			Valid   bool   `json:"valid"`
			Message string `json:"message"`
		}
		decode(t, rec, &body)
		if body.Valid || body.Message != "Invalid activation code" {
			t.Errorf("unexpected body %+v", body)
		}
	})

	t.Run("store failure is a 503", func(t *testing.T) {
		uc := &mockCodesUC{ValidateFunc: func(ctx context.Context, code, appID string) (bool, error) {
			return false, domain.ErrTransientStore
		}}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/validate", `{"activation_code":"C","app_id":"A"}`, false)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("want 503, got %d", rec.Code)
		}
	})
}

func TestBulkGenerate(t *testing.T) {
	var gotCount int
	uc := &mockCodesUC{BulkGenerateFunc: func(ctx context.Context, appID string, count int, expiresAt *time.Time, maxUses *int) (*usecase.BulkResult, error) {
		gotCount = count
		return &usecase.BulkResult{BatchID: "01HBATCH", Codes: []string{"A-1111", "B-2222"}}, nil
	}}
	rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/bulk_generate", `{"app_id":"app-1","count":2}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Batch-ID") != "01HBATCH" {
		t.Errorf("expected batch header, got %q", rec.Header().Get("X-Batch-ID"))
	}
	var codes []string
	decode(t, rec, &codes)
	if len(codes) != 2 || gotCount != 2 {
		t.Errorf("expected two codes, got %v", codes)
	}
}

func TestBulkGenerate_ExpiryCap(t *testing.T) {
	called := false
	uc := &mockCodesUC{BulkGenerateFunc: func(ctx context.Context, appID string, count int, expiresAt *time.Time, maxUses *int) (*usecase.BulkResult, error) {
		called = true
		return &usecase.BulkResult{}, nil
	}}
	body := `{"app_id":"app-1","count":2,"expires_in_days":106752}`
	rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/bulk_generate", body, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if called {
		t.Fatal("expected no codes to be issued")
	}
}

func TestRevokeUnbindDelete(t *testing.T) {
	t.Run("revoke confirms", func(t *testing.T) {
		rec := do(t, newRouter(&mockCodesUC{}, &mockLimiter{allow: true}), http.MethodPost, "/revoke", `{"activation_code":"C"}`, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
	})

	t.Run("revoke unknown is 404", func(t *testing.T) {
		uc := &mockCodesUC{RevokeFunc: func(ctx context.Context, code string) error { return domain.ErrCodeNotFound }}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/revoke", `{"activation_code":"C"}`, true)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})

	t.Run("unbind without binding is 404", func(t *testing.T) {
		uc := &mockCodesUC{UnbindFunc: func(ctx context.Context, appID string) error { return domain.ErrNoBinding }}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/unbind", `{"app_id":"A"}`, true)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
		var body struct {
			Success bool `json:"success"`
		}
		decode(t, rec, &body)
		if body.Success {
			t.Error("expected success=false")
		}
	})

	t.Run("delete succeeds", func(t *testing.T) {
		var deleted string
		uc := &mockCodesUC{DeleteFunc: func(ctx context.Context, code string) error { deleted = code; return nil }}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodPost, "/delete", `{"activation_code":"C"}`, true)
		if rec.Code != http.StatusOK || deleted != "C" {
			t.Fatalf("want 200 deleting C, got %d deleting %q", rec.Code, deleted)
		}
	})
}

func TestListAndGet(t *testing.T) {
	t.Run("passes paging through", func(t *testing.T) {
		var gotLimit, gotOffset int
		uc := &mockCodesUC{ListFunc: func(ctx context.Context, limit, offset int) (*usecase.CodePage, error) {
			gotLimit, gotOffset = limit, offset
			return &usecase.CodePage{
				Items: []*model.ActivationCode{model.NewActivationCode("C1", nil, nil)},
				Total: 7, Limit: limit, Offset: offset,
			}, nil
		}}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodGet, "/list_codes?limit=5&offset=2", "", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if gotLimit != 5 || gotOffset != 2 {
			t.Errorf("expected limit 5 offset 2, got %d %d", gotLimit, gotOffset)
		}
		var body struct {
			Data  []map[string]interface{} `json:"data"`
			Total int                      `json:"total"`
		}
		decode(t, rec, &body)
		if body.Total != 7 || len(body.Data) != 1 || body.Data[0]["code"] != "C1" {
			t.Errorf("unexpected body %+v", body)
		}
	})

	t.Run("rejects malformed paging", func(t *testing.T) {
		rec := do(t, newRouter(&mockCodesUC{}, &mockLimiter{allow: true}), http.MethodGet, "/list_codes?limit=abc", "", true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("get returns the record with its state", func(t *testing.T) {
		uc := &mockCodesUC{GetFunc: func(ctx context.Context, code string) (*model.ActivationCode, error) {
			ac := model.NewActivationCode(code, nil, nil)
			ac.IsRevoked = true
			return ac, nil
		}}
		rec := do(t, newRouter(uc, &mockLimiter{allow: true}), http.MethodGet, "/codes/ABC-1234", "", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var body map[string]interface{}
		decode(t, rec, &body)
		if body["code"] != "ABC-1234" || body["state"] != "revoked" {
			t.Errorf("unexpected body %v", body)
		}
	})

	t.Run("get unknown is 404", func(t *testing.T) {
		rec := do(t, newRouter(&mockCodesUC{}, &mockLimiter{allow: true}), http.MethodGet, "/codes/NOPE", "", true)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("limited callers get 429 with Retry-After", func(t *testing.T) {
		lim := &mockLimiter{allow: false}
		rec := do(t, newRouter(&mockCodesUC{}, lim), http.MethodPost, "/validate", `{"activation_code":"C","app_id":"A"}`, false)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("want 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "60" {
			t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
		var body struct {
			Detail string `json:"detail"`
		}
		decode(t, rec, &body)
		if body.Detail != "Rate limit exceeded" {
			t.Errorf("unexpected detail %q", body.Detail)
		}
	})

	t.Run("keys by client IP", func(t *testing.T) {
		lim := &mockLimiter{allow: true}
		h := newRouter(&mockCodesUC{}, lim)
		req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewBufferString(`{"activation_code":"C","app_id":"A"}`))
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if len(lim.keys) != 1 || lim.keys[0] != "203.0.113.7" {
			t.Errorf("expected key 203.0.113.7, got %v", lim.keys)
		}
	})

	t.Run("limiter failure lets the request through", func(t *testing.T) {
		lim := &mockLimiter{err: errors.New("redis down")}
		rec := do(t, newRouter(&mockCodesUC{}, lim), http.MethodPost, "/validate", `{"activation_code":"C","app_id":"A"}`, false)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
	})

	t.Run("health and metrics bypass the limiter", func(t *testing.T) {
		lim := &mockLimiter{allow: false}
		h := newRouter(&mockCodesUC{}, lim)
		if rec := do(t, h, http.MethodGet, "/health", "", false); rec.Code != http.StatusOK {
			t.Fatalf("health: want 200, got %d", rec.Code)
		}
		if rec := do(t, h, http.MethodGet, "/metrics", "", false); rec.Code != http.StatusOK {
			t.Fatalf("metrics: want 200, got %d", rec.Code)
		}
		if len(lim.keys) != 0 {
			t.Errorf("expected limiter untouched, got %v", lim.keys)
		}
	})
}

func TestRequestLog_CarriesCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	srv := api.NewServer(&mockCodesUC{}, &mockLimiter{allow: true}, mockPinger{}, api.Options{APIKey: testKey}, &logger)

	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewBufferString(`{"activation_code":"C","app_id":"A"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	srv.Router().ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "http_request" {
		t.Fatalf("expected the request log line, got %v", entry)
	}
	if entry["caller"] != "203.0.113.7" {
		t.Errorf("expected caller 203.0.113.7, got %v", entry["caller"])
	}
	if entry["trace_id"] == nil || entry["trace_id"] == "" {
		t.Errorf("expected a trace_id, got %v", entry["trace_id"])
	}
}

func TestHealth_StoreDown(t *testing.T) {
	srv := api.NewServer(&mockCodesUC{}, &mockLimiter{allow: true}, mockPinger{err: errors.New("down")}, api.Options{APIKey: testKey}, newLogger())
	rec := do(t, srv.Router(), http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
}
