package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/karwick/authgate"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type secondFactorRequest struct {
	PendingTicket string `json:"pendingTicket"`
	Code          string `json:"code"`
	IsBackupCode  bool   `json:"isBackupCode"`
}

type abandonRequest struct {
	PendingTicket string `json:"pendingTicket"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) issueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.engine.IssueAnonymousCSRFToken(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authgate.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
		case errors.Is(err, authgate.ErrEmailNotVerified):
			writeError(w, http.StatusUnauthorized, "email_not_verified")
		case errors.Is(err, authgate.ErrLoginRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate_limited")
		default:
			writeError(w, http.StatusServiceUnavailable, "unavailable")
		}
		return
	}

	if result.SecondFactorRequired {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "second_factor_required",
			"pendingTicket": result.PendingTicket,
			"expiresAt":     result.TicketExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "authenticated",
		"session_token": result.SessionToken,
		"csrf_token":    result.CSRFToken,
	})
}

func (h *Handler) verifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.ConfirmSecondFactor(r.Context(), req.PendingTicket, req.Code, req.IsBackupCode)
	if err != nil {
		switch {
		case errors.Is(err, authgate.ErrSecondFactorInvalid):
			writeError(w, http.StatusBadRequest, "invalid_code")
		case errors.Is(err, authgate.ErrTicketExpired):
			writeError(w, http.StatusGone, "ticket_expired")
		case errors.Is(err, authgate.ErrTicketReplay):
			writeError(w, http.StatusConflict, "ticket_replayed")
		case errors.Is(err, authgate.ErrTicketInvalid):
			writeError(w, http.StatusBadRequest, "invalid_ticket")
		case errors.Is(err, authgate.ErrTicketAttemptsExceeded):
			writeError(w, http.StatusTooManyRequests, "attempts_exceeded")
		case errors.Is(err, authgate.ErrSecondFactorRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate_limited")
		default:
			writeError(w, http.StatusServiceUnavailable, "unavailable")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "authenticated",
		"session_token": result.SessionToken,
		"csrf_token":    result.CSRFToken,
	})
}

func (h *Handler) abandonSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.AbandonSecondFactor(r.Context(), req.PendingTicket); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// forgotPassword answers identically whether or not the address has an
// account. Only a rate-limit trip or infrastructure outage changes the
// response, and neither depends on account existence.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, err := h.engine.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, authgate.ErrTokenRateLimited) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}

	if token != "" {
		// Delivery failure must not change the response shape either.
		_ = h.sender.SendPasswordReset(r.Context(), req.Email, token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, authgate.ErrTokenExpired):
			writeError(w, http.StatusBadRequest, "expired")
		case errors.Is(err, authgate.ErrTokenAlreadyUsed):
			writeError(w, http.StatusBadRequest, "already_used")
		case errors.Is(err, authgate.ErrTokenInvalid):
			writeError(w, http.StatusBadRequest, "invalid")
		case errors.Is(err, authgate.ErrPasswordPolicy):
			writeError(w, http.StatusBadRequest, "password_policy")
		case errors.Is(err, authgate.ErrTokenRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate_limited")
		default:
			writeError(w, http.StatusServiceUnavailable, "unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifyEmail redeems the link from the signup email. A replayed token gets
// 409 with an "already_verified" status: a human page may soften it, but the
// code stays distinct from a first-time success for monitoring.
func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	if err := h.engine.ConfirmEmailVerification(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, authgate.ErrTokenAlreadyUsed):
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already_verified"})
		case errors.Is(err, authgate.ErrTokenExpired):
			writeError(w, http.StatusGone, "expired")
		case errors.Is(err, authgate.ErrTokenInvalid):
			writeError(w, http.StatusBadRequest, "invalid")
		default:
			writeError(w, http.StatusServiceUnavailable, "unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, err := h.engine.RequestEmailVerification(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, authgate.ErrTokenRateLimited) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}

	if token != "" {
		_ = h.sender.SendEmailVerification(r.Context(), req.Email, token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authgate.ErrAccountExists):
			writeError(w, http.StatusConflict, "account_exists")
		case errors.Is(err, authgate.ErrPasswordPolicy):
			writeError(w, http.StatusBadRequest, "password_policy")
		case errors.Is(err, authgate.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "invalid_email")
		case errors.Is(err, authgate.ErrSignupRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate_limited")
		default:
			writeError(w, http.StatusServiceUnavailable, "unavailable")
		}
		return
	}

	if result.VerificationToken != "" {
		_ = h.sender.SendEmailVerification(r.Context(), req.Email, result.VerificationToken)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account_id": result.AccountID})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(r.Context(), bearerToken(r)); err != nil {
		if errors.Is(err, authgate.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
