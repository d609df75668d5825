package authgate

import (
	"context"
	"errors"
	"strconv"

	"github.com/karwick/authgate/internal"
)

// GenerateBackupCodes mints a fresh set of single-use recovery codes and
// replaces any existing set wholesale. The plaintext codes are returned
// exactly once; only per-account hashes are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.accounts.GetTOTPSecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrTOTPNotEnabled
		}
		return nil, ErrStoreUnavailable
	}
	if record == nil || !record.Confirmed {
		// Backup codes only make sense as a fallback for an active
		// authenticator.
		return nil, ErrTOTPNotEnabled
	}

	count := e.config.TOTP.BackupCodeCount
	length := e.config.TOTP.BackupCodeLength

	plain := make([]string, 0, count)
	hashes := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(length)
		if err != nil {
			return nil, ErrBackupCodeUnavailable
		}
		plain = append(plain, internal.FormatBackupCode(code))
		hashes = append(hashes, BackupCodeRecord{
			Hash: internal.BackupCodeHash(accountID, code),
		})
	}

	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, ErrBackupCodeUnavailable
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(count)}
	})
	return plain, nil
}

// consumeBackupCode canonicalizes and redeems one code. The provider's
// ConsumeBackupCode removes the matched hash atomically, so a concurrent
// duplicate submission yields exactly one true.
func (e *Engine) consumeBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	canonical := internal.CanonicalizeBackupCode(code)
	if canonical == "" {
		return false, nil
	}

	hash := internal.BackupCodeHash(accountID, canonical)
	consumed, err := e.accounts.ConsumeBackupCode(ctx, accountID, hash)
	if err != nil {
		return false, ErrBackupCodeUnavailable
	}
	return consumed, nil
}
