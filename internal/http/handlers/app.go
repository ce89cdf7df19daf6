package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
	"sorastudio/internal/infra/geoip"
	"sorastudio/internal/middleware"
	"sorastudio/internal/service"
)

type App struct {
	Videos   *service.Videos
	Quota    *service.QuotaLedger
	Events   *service.EventLog
	Geo      *geoip.Resolver
	Logger   zerolog.Logger
	MockMode bool
}

// envelope is the response shape shared by every endpoint.
type envelope struct {
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Quota      any       `json:"quota,omitempty"`
	Cached     *bool     `json:"cached,omitempty"`
	Pagination any       `json:"pagination,omitempty"`
	Error      *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) fail(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: message}})
}

// writeError is the single mapping point from service errors to HTTP
// responses.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		a.fail(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Msg)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.fail(w, http.StatusNotFound, "NOT_FOUND", "Video not found")
		return
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.fail(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "Quota exceeded")
		return
	case errors.Is(err, domain.ErrSourceNotCompleted):
		a.fail(w, http.StatusConflict, "SOURCE_NOT_COMPLETED", "Source video must be completed before remixing")
		return
	case errors.Is(err, domain.ErrNotReady):
		a.fail(w, http.StatusConflict, "NOT_READY", "Video is not ready for download yet")
		return
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		switch ue.Kind {
		case domain.UpstreamInvalidParams:
			a.fail(w, http.StatusBadRequest, "INVALID_PARAMETERS", ue.Message)
		case domain.UpstreamNotFound:
			a.fail(w, http.StatusNotFound, "NOT_FOUND", "Video not found")
		case domain.UpstreamRateLimited:
			a.fail(w, http.StatusTooManyRequests, "RATE_LIMITED", "Upstream rate limit hit, try again later")
		default:
			a.fail(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Video provider is unavailable")
		}
		return
	}

	a.Logger.Error().Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
	a.fail(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
}

// writeQuotaExceeded renders the 429 with the owner's current usage attached,
// as create/remix callers expect.
func (a *App) writeQuotaExceeded(w http.ResponseWriter, r *http.Request, owner string) {
	check, err := a.Quota.Check(r.Context(), owner)
	if err != nil {
		a.writeError(w, r, domain.ErrQuotaExceeded)
		return
	}
	msg := check.Message
	if msg == "" {
		msg = "Quota exceeded"
	}
	a.json(w, http.StatusTooManyRequests, envelope{
		Success: false,
		Error:   &apiError{Code: "QUOTA_EXCEEDED", Message: msg},
		Quota: map[string]int{
			"current_usage": check.Used,
			"limit":         check.Limit,
			"remaining":     check.Remaining,
		},
	})
}

// ownerID resolves the request owner, defaulting to the anonymous sentinel.
// This is the only place the sentinel is applied.
func ownerID(r *http.Request) string {
	if owner := middleware.OwnerFromContext(r.Context()); owner != "" {
		return owner
	}
	return domain.AnonymousOwner
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
