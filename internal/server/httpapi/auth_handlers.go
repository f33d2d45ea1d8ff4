package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/auth"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/services"
)

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

type federatedRequest struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	Image             string `json:"image"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type verifyResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	UserID      string `json:"userId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type sessionResponse struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Name          string `json:"name,omitempty"`
	Image         string `json:"image,omitempty"`
	PlanID        string `json:"planId,omitempty"`
	PlanName      string `json:"planName,omitempty"`
	Credits       int    `json:"credits"`
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, statusResponse{Message: "invalid request body"})
		return
	}

	if err := s.codes.Issue(r.Context(), req.Email); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error(r.Context(), "code issue failed", "error", err)
		}
		s.metrics.CodesIssued.WithLabelValues(issueResult(err)).Inc()
		respondJSON(w, status, statusResponse{Message: publicMessage(err)})
		return
	}

	s.metrics.CodesIssued.WithLabelValues("sent").Inc()
	respondJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Verification code sent"})
}

func issueResult(err error) string {
	switch {
	case errors.Is(err, common.ErrValidation):
		return "invalid"
	case errors.Is(err, common.ErrMailDelivery):
		return "mail_failed"
	default:
		return "error"
	}
}

// handleVerifyCode reports rejected codes as 200 with success=false so the
// sign-in form can show the message inline.
func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, verifyResponse{Message: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		s.metrics.CodeVerifications.WithLabelValues("rejected").Inc()
		respondJSON(w, http.StatusOK, verifyResponse{Message: "Email and code are required"})
		return
	}

	ctx := r.Context()
	// the user row is written before the code is spent
	var user *models.User
	_, err := s.codes.Verify(ctx, req.Email, req.Code, func(ctx context.Context, email string) (err error) {
		user, err = s.identity.ResolveOrCreate(ctx, email)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, common.ErrTooManyAttempts):
			s.metrics.CodeVerifications.WithLabelValues("rate_limited").Inc()
			respondJSON(w, http.StatusTooManyRequests, verifyResponse{Message: publicMessage(err)})
		case errors.Is(err, common.ErrValidation):
			s.metrics.CodeVerifications.WithLabelValues("rejected").Inc()
			respondJSON(w, http.StatusOK, verifyResponse{Message: publicMessage(err)})
		default:
			s.metrics.CodeVerifications.WithLabelValues("error").Inc()
			s.logger.Error(ctx, "code verification failed", "error", err)
			respondJSON(w, http.StatusInternalServerError, verifyResponse{Message: "Internal server error"})
		}
		return
	}

	sess, err := s.identity.IssueSession(ctx, user)
	if err != nil {
		s.metrics.CodeVerifications.WithLabelValues("error").Inc()
		s.logger.Error(ctx, "issuing session failed", "user_id", user.ID, "error", err)
		respondJSON(w, http.StatusInternalServerError, verifyResponse{Message: "Internal server error"})
		return
	}

	s.setSessionCookie(w, sess)
	s.metrics.CodeVerifications.WithLabelValues("verified").Inc()
	s.logger.Info(ctx, "signed in with email code", "user_id", user.ID)
	respondJSON(w, http.StatusOK, verifyResponse{
		Success:     true,
		Message:     "Email verified successfully",
		UserID:      user.ID,
		RedirectURL: "/",
	})
}

func (s *Server) handleFederated(w http.ResponseWriter, r *http.Request) {
	var req federatedRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx := r.Context()
	user, err := s.identity.ResolveFromFederatedIdentity(ctx, services.FederatedIdentity{
		Provider:          req.Provider,
		ProviderAccountID: req.ProviderAccountID,
		Email:             req.Email,
		Name:              req.Name,
		Image:             req.Image,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.identity.IssueSession(ctx, user)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.logger.Info(ctx, "signed in with provider", "provider", req.Provider, "user_id", user.ID)
	respondJSON(w, http.StatusOK, sessionResponse{UserID: user.ID, Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	respondJSON(w, http.StatusOK, userResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.Verified(),
		Name:          u.Name,
		Image:         u.Image,
		PlanID:        u.PlanID,
		PlanName:      u.PlanName,
		Credits:       u.Credits,
	})
}

// handleLogout always clears the cookie. Revocation of an unknown or
// expired token is not an error for the caller.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.identity.RevokeSession(r.Context(), token); err != nil {
			s.logger.Warn(r.Context(), "session revoke failed", "error", err)
		}
	}
	s.clearSessionCookie(w)
	respondJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Signed out"})
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	target := auth.SafeRedirect(r.URL.Query().Get("callbackUrl"), s.baseURL)
	http.Redirect(w, r, target, http.StatusFound)
}
