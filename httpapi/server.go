package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/karwick/authgate"
)

// TokenSender delivers plaintext verification tokens to the account's
// mailbox. The HTTP layer never places a token in a response body; an empty
// token means no message should be sent and the handler answers as if one
// was.
type TokenSender interface {
	SendPasswordReset(ctx context.Context, email, token string) error
	SendEmailVerification(ctx context.Context, email, token string) error
}

type discardSender struct{}

func (discardSender) SendPasswordReset(context.Context, string, string) error      { return nil }
func (discardSender) SendEmailVerification(context.Context, string, string) error { return nil }

// Options tunes the HTTP surface.
type Options struct {
	// Sender delivers tokens. Nil discards them, which is only useful in
	// tests.
	Sender TokenSender

	// BackstopRPS and BackstopBurst bound per-IP request throughput inside
	// the process, in front of the Redis-backed limiter. Zero RPS disables
	// the backstop.
	BackstopRPS   float64
	BackstopBurst int
}

// Handler owns the route table and adapts engine results to the wire.
type Handler struct {
	engine *authgate.Engine
	sender TokenSender
}

// NewRouter wires the full route table with client IP extraction, the
// in-process backstop, and CSRF enforcement on every unsafe verb.
func NewRouter(engine *authgate.Engine, opts Options) http.Handler {
	sender := opts.Sender
	if sender == nil {
		sender = discardSender{}
	}
	h := &Handler{engine: engine, sender: sender}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(clientContext)
	if opts.BackstopRPS > 0 {
		r.Use(newBackstop(opts.BackstopRPS, opts.BackstopBurst).middleware)
	}

	// Safe requests hand out a fresh anonymous CSRF token; unsafe anonymous
	// requests must present one before any side effect runs.
	r.Get("/csrf", h.issueCSRF)
	r.Get("/verify-email", h.verifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAnonymousCSRF)
		r.Post("/signup", h.signup)
		r.Post("/login", h.login)
		r.Post("/verify-second-factor", h.verifySecondFactor)
		r.Post("/abandon-second-factor", h.abandonSecondFactor)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)
		r.Post("/resend-verification", h.resendVerification)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireSessionCSRF)
		r.Post("/logout", h.logout)
	})

	return r
}
