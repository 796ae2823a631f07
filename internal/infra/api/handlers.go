package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"activation-service/internal/domain"
	"activation-service/internal/domain/model"
	"activation-service/internal/infra/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const headerBatchID = "X-Batch-ID"

// app_id is accepted for compatibility with older clients; codes are bound via /bind.
type generateRequest struct {
	AppID         string `json:"app_id" validate:"max=255"`
	Length        *int   `json:"length" validate:"omitempty,min=1,max=256"`
	Prefix        string `json:"prefix" validate:"max=64"`
	Suffix        string `json:"suffix" validate:"max=64"`
	WithChecksum  *bool  `json:"with_checksum"`
	ExpiresInDays *int   `json:"expires_in_days" validate:"omitempty,min=1,max=36500"`
	MaxUses       *int   `json:"max_uses" validate:"omitempty,min=1"`
}

type generateResponse struct {
	ActivationCode string `json:"activation_code"`
}

type codeAppRequest struct {
	ActivationCode string `json:"activation_code" validate:"required,max=512"`
	AppID          string `json:"app_id" validate:"required,max=255"`
}

type bulkGenerateRequest struct {
	AppID         string `json:"app_id" validate:"required,max=255"`
	Count         int    `json:"count" validate:"required,min=1"`
	ExpiresInDays *int   `json:"expires_in_days" validate:"omitempty,min=1,max=36500"`
	MaxUses       *int   `json:"max_uses" validate:"omitempty,min=1"`
}

type codeRequest struct {
	ActivationCode string `json:"activation_code" validate:"required,max=512"`
}

type appRequest struct {
	AppID string `json:"app_id" validate:"required,max=255"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type listResponse struct {
	Data   []*model.ActivationCode `json:"data"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

type codeResponse struct {
	*model.ActivationCode
	State model.State `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("health check failed")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable"})
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}

	params := model.GenerateParams{
		Length:       s.opts.DefaultLength,
		Prefix:       req.Prefix,
		Suffix:       req.Suffix,
		WithChecksum: true,
		ExpiresAt:    s.expiresAt(req.ExpiresInDays),
		MaxUses:      req.MaxUses,
	}
	if req.Length != nil {
		params.Length = *req.Length
	}
	if req.WithChecksum != nil {
		params.WithChecksum = *req.WithChecksum
	}
	if req.AppID != "" {
		logging.With(r.Context(), s.log).Debug().Str("app_id", req.AppID).Msg("generate request carries app_id; code stays unbound")
	}

	ac, err := s.codes.Generate(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, generateResponse{ActivationCode: ac.Code})
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	var req codeAppRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.codes.Bind(r.Context(), req.ActivationCode, req.AppID)
	switch {
	case err == nil:
		render.JSON(w, r, resultResponse{Success: true, Message: "Activation code bound successfully"})
	case isBindRejection(err):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resultResponse{Success: false, Message: err.Error()})
	case errors.Is(err, domain.ErrTransientStore):
		s.writeError(w, r, err)
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("bind failed")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, resultResponse{Success: false, Message: "Failed to bind activation code"})
	}
}

func isBindRejection(err error) bool {
	for _, target := range []error{
		domain.ErrCodeNotFound,
		domain.ErrAlreadyBound,
		domain.ErrAppAlreadyBound,
		domain.ErrExpired,
		domain.ErrQuotaExceeded,
		domain.ErrRevoked,
		domain.ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req codeAppRequest
	if !s.decode(w, r, &req) {
		return
	}

	ok, err := s.codes.Validate(r.Context(), req.ActivationCode, req.AppID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validateResponse{Valid: false, Message: "Invalid activation code"})
		return
	}
	render.JSON(w, r, validateResponse{Valid: true, Message: "Activation code is valid"})
}

func (s *Server) handleBulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req bulkGenerateRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.codes.BulkGenerate(r.Context(), req.AppID, req.Count, s.expiresAt(req.ExpiresInDays), req.MaxUses)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set(headerBatchID, res.BatchID)
	render.JSON(w, r, res.Codes)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.codes.Revoke(r.Context(), req.ActivationCode); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, messageResponse{Message: "Activation code revoked successfully"})
}

func (s *Server) handleUnbind(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.codes.Unbind(r.Context(), req.AppID); err != nil {
		s.writeResult(w, r, err)
		return
	}
	render.JSON(w, r, resultResponse{Success: true, Message: "Activation code unbound successfully"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.codes.Delete(r.Context(), req.ActivationCode); err != nil {
		s.writeResult(w, r, err)
		return
	}
	render.JSON(w, r, resultResponse{Success: true, Message: "Activation code deleted successfully"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeDetail(w, r, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		writeDetail(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	page, err := s.codes.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, listResponse{Data: page.Items, Total: page.Total, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ac, err := s.codes.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, codeResponse{ActivationCode: ac, State: ac.State(s.now())})
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) expiresAt(days *int) *time.Time {
	if days == nil {
		return nil
	}
	t := s.now().AddDate(0, 0, *days)
	return &t
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		writeDetail(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeDetail(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "min":
			parts = append(parts, fe.Field()+" must be at least "+fe.Param())
		case "max":
			parts = append(parts, fe.Field()+" must be at most "+fe.Param())
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// writeResult answers unbind/delete failures in their {success,message} shape.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, status)
	render.JSON(w, r, resultResponse{Success: false, Message: err.Error()})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("store unavailable")
		msg = "Service temporarily unavailable"
	case http.StatusInternalServerError:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
		msg = "Internal server error"
	}
	writeDetail(w, r, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCodeNotFound),
		errors.Is(err, domain.ErrNoBinding),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
