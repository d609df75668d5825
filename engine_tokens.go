package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/karwick/authgate/internal"
)

// issueVerificationToken mints an opaque id||secret token, persists the
// secret's hash, and returns the plaintext for the outgoing email. Issuing
// supersedes any earlier live token of the same purpose for the account.
func (e *Engine) issueVerificationToken(
	ctx context.Context,
	accountID string,
	purpose TokenPurpose,
	ttl time.Duration,
	payload string,
) (string, error) {
	id, err := internal.NewTicketID()
	if err != nil {
		return "", ErrTokenUnavailable
	}
	secret, err := internal.NewTokenSecret()
	if err != nil {
		return "", ErrTokenUnavailable
	}

	record := &verificationToken{
		AccountID:  accountID,
		Purpose:    purpose,
		SecretHash: internal.HashTokenSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
		Payload:    payload,
	}
	if err := e.tokenStore.Save(ctx, id.String(), record, ttl); err != nil {
		return "", ErrTokenUnavailable
	}

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"purpose": purpose.String()}
	})
	return internal.EncodeOpaqueToken(id, secret), nil
}

// consumeVerificationToken splits the candidate, redeems it against the
// store, and maps outcomes onto the public sentinels. A malformed token is
// indistinguishable from a nonexistent one.
func (e *Engine) consumeVerificationToken(
	ctx context.Context,
	purpose TokenPurpose,
	token string,
) (*verificationToken, string, error) {
	id, secret, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		e.rejectToken(ctx, purpose, ErrTokenInvalid)
		return nil, "", ErrTokenInvalid
	}

	record, err := e.tokenStore.Consume(ctx, purpose, id.String(), internal.HashTokenBytes(secret[:]))
	if err != nil {
		switch {
		case errors.Is(err, errTokenExpired):
			e.rejectToken(ctx, purpose, ErrTokenExpired)
			return nil, "", ErrTokenExpired
		case errors.Is(err, errTokenConsumed):
			e.metricInc(MetricTokenReplay)
			e.emitAudit(ctx, auditEventTokenReplay, false, "", "", ErrTokenAlreadyUsed, func() map[string]string {
				return map[string]string{"purpose": purpose.String()}
			})
			return nil, "", ErrTokenAlreadyUsed
		case errors.Is(err, errTokenNotFound):
			e.rejectToken(ctx, purpose, ErrTokenInvalid)
			return nil, "", ErrTokenInvalid
		default:
			return nil, "", ErrTokenUnavailable
		}
	}

	e.metricInc(MetricTokenConsumed)
	e.emitAudit(ctx, auditEventTokenConsumed, true, record.AccountID, "", nil, func() map[string]string {
		return map[string]string{"purpose": purpose.String()}
	})
	return record, id.String(), nil
}

// restoreVerificationToken is the compensation path when the authorized side
// effect failed after consumption. Failure to restore is logged, never
// surfaced; the token stays consumed rather than risking a double spend.
func (e *Engine) restoreVerificationToken(ctx context.Context, purpose TokenPurpose, tokenID string) {
	if err := e.tokenStore.Restore(ctx, purpose, tokenID); err != nil {
		e.warnf("token restore failed (purpose=%s): %v", purpose, err)
	}
}

func (e *Engine) rejectToken(ctx context.Context, purpose TokenPurpose, cause error) {
	e.metricInc(MetricTokenRejected)
	e.emitAudit(ctx, auditEventTokenRejected, false, "", "", cause, func() map[string]string {
		return map[string]string{"purpose": purpose.String()}
	})
}
