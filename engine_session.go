package authgate

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/karwick/authgate/internal"
	"github.com/karwick/authgate/session"
)

// SessionInfo is the validated identity attached to a request.
type SessionInfo struct {
	SessionID string
	AccountID string
	Role      string
	ExpiresAt time.Time
}

// issueSession mints a session row, its CSRF token, and the signed access
// token. It accepts only a sessionGrant, so every call site has already
// passed either password validation with no second factor, or a finalized
// ticket. There is no path here from a pending or abandoned login.
func (e *Engine) issueSession(ctx context.Context, grant sessionGrant) (*LoginResult, error) {
	sessionID := uuid.NewString()

	csrfToken, err := internal.NewCSRFToken()
	if err != nil {
		return nil, ErrSessionCreationFailed
	}

	now := time.Now()
	sess := &session.Session{
		SessionID: sessionID,
		AccountID: grant.accountID,
		Role:      grant.role,
		CSRFHash:  sha256.Sum256([]byte(csrfToken)),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.Lifetime).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, e.config.Session.Lifetime); err != nil {
		e.emitAudit(ctx, auditEventSessionIssued, false, grant.accountID, "", ErrSessionCreationFailed, nil)
		return nil, ErrSessionCreationFailed
	}

	accessToken, err := e.jwtManager.CreateAccess(grant.accountID, sessionID, grant.role)
	if err != nil {
		_, _ = e.sessionStore.Delete(ctx, sessionID)
		e.emitAudit(ctx, auditEventSessionIssued, false, grant.accountID, "", ErrSessionCreationFailed, nil)
		return nil, ErrSessionCreationFailed
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, grant.accountID, sessionID, nil, func() map[string]string {
		return map[string]string{"via": grant.via}
	})

	return &LoginResult{
		SessionID:    sessionID,
		SessionToken: accessToken,
		CSRFToken:    csrfToken,
	}, nil
}

// sessionForToken parses the access token and loads the row it references.
// Shared by ValidateSession and the CSRF check so a mutating request reads
// the row exactly once.
func (e *Engine) sessionForToken(ctx context.Context, accessToken string) (*session.Session, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := e.sessionStore.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, ErrStoreUnavailable
	}
	if sess.AccountID != claims.AID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ValidateSession checks the access token's signature and claims, then
// confirms the referenced session row still exists. A revoked session fails
// even while the token's own expiry has not passed.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	sess, err := e.sessionForToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return &SessionInfo{
		SessionID: sess.SessionID,
		AccountID: sess.AccountID,
		Role:      sess.Role,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// ValidateSessionCSRF enforces the double-submit check for an authenticated
// request. The rejection is uniform: missing, stale, and mismatched tokens
// are indistinguishable to the caller.
func (e *Engine) ValidateSessionCSRF(ctx context.Context, accessToken, csrfToken string) error {
	sess, err := e.sessionForToken(ctx, accessToken)
	if err != nil {
		e.rejectCSRF(ctx, "")
		return ErrCSRFRejected
	}
	if csrfToken == "" {
		e.rejectCSRF(ctx, sess.AccountID)
		return ErrCSRFRejected
	}

	provided := sha256.Sum256([]byte(csrfToken))
	if subtle.ConstantTimeCompare(provided[:], sess.CSRFHash[:]) != 1 {
		e.rejectCSRF(ctx, sess.AccountID)
		return ErrCSRFRejected
	}
	return nil
}

// IssueAnonymousCSRFToken mints a server-backed token for forms submitted
// without a session, e.g. the login and forgot-password pages.
func (e *Engine) IssueAnonymousCSRFToken(ctx context.Context) (string, error) {
	if e == nil || e.csrfGuard == nil {
		return "", ErrEngineNotReady
	}
	token, err := e.csrfGuard.Issue(ctx)
	if err != nil {
		return "", ErrStoreUnavailable
	}
	return token, nil
}

// ValidateAnonymousCSRF fails closed: a guard backend outage rejects the
// request rather than waving it through.
func (e *Engine) ValidateAnonymousCSRF(ctx context.Context, csrfToken string) error {
	if e == nil || e.csrfGuard == nil {
		return ErrEngineNotReady
	}
	if err := e.csrfGuard.Validate(ctx, csrfToken); err != nil {
		e.rejectCSRF(ctx, "")
		return ErrCSRFRejected
	}
	return nil
}

// Logout revokes the session referenced by the access token. Revoking an
// already-revoked session reports ErrSessionNotFound.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return ErrSessionNotFound
	}

	removed, err := e.sessionStore.Delete(ctx, claims.SID)
	if err != nil {
		return ErrStoreUnavailable
	}
	if !removed {
		return ErrSessionNotFound
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, claims.AID, claims.SID, nil, nil)
	return nil
}

func (e *Engine) rejectCSRF(ctx context.Context, accountID string) {
	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, auditEventCSRFRejected, false, accountID, "", ErrCSRFRejected, nil)
}
