package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/paywall/internal/common"
)

// publicMessages are shown to clients verbatim. Anything not listed gets a
// generic message for its status.
var publicMessages = []struct {
	err error
	msg string
}{
	{common.ErrNoValidToken, "invalid or expired code"},
	{common.ErrInvalidCode, "invalid or expired code"},
	{common.ErrMalformedCode, "code must be 6 digits"},
	{common.ErrInvalidEmail, "invalid email address"},
	{common.ErrTooManyAttempts, "too many attempts, try again later"},
	{common.ErrMailDelivery, "could not send verification email"},
	{common.ErrSessionExpired, "session expired"},
	{common.ErrUnsupportedProvider, "unsupported provider"},
	{common.ErrIncompleteIdentity, "incomplete identity"},
	{common.ErrAccountLinkConflict, "account is linked to another user"},
	{common.ErrUserNotFound, "user not found"},
	{common.ErrPlanNotFound, "plan not found"},
	{common.ErrSignatureInvalid, "invalid signature"},
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrIntegrity):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	for _, m := range publicMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	switch statusFor(err) {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "upstream service unavailable"
	default:
		return "internal error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError writes the mapped status and a client-safe message. Server
// side failures are logged with full detail.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug(r.Context(), "request rejected", "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, errorResponse{Error: publicMessage(err)})
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
