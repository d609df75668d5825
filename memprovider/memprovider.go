// Package memprovider is an in-memory AccountProvider for tests, examples,
// and the reference daemon. Not intended for production storage.
package memprovider

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/karwick/authgate"
)

// Provider keeps all account state in process memory. Safe for concurrent
// use; every method holds one mutex, which also gives ConsumeBackupCode its
// one-winner guarantee.
type Provider struct {
	mu          sync.Mutex
	accounts    map[string]*authgate.AccountRecord
	byEmail     map[string]string
	totp        map[string]*authgate.TOTPRecord
	backupCodes map[string][]authgate.BackupCodeRecord
}

func New() *Provider {
	return &Provider{
		accounts:    make(map[string]*authgate.AccountRecord),
		byEmail:     make(map[string]string),
		totp:        make(map[string]*authgate.TOTPRecord),
		backupCodes: make(map[string][]authgate.BackupCodeRecord),
	}
}

// Put inserts or replaces an account, for seeding.
func (p *Provider) Put(record authgate.AccountRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := record
	p.accounts[record.AccountID] = &clone
	p.byEmail[strings.ToLower(record.Email)] = record.AccountID
}

func (p *Provider) GetAccountByEmail(_ context.Context, email string) (authgate.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byEmail[strings.ToLower(email)]
	if !ok {
		return authgate.AccountRecord{}, authgate.ErrAccountNotFound
	}
	return *p.accounts[id], nil
}

func (p *Provider) GetAccountByID(_ context.Context, accountID string) (authgate.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return authgate.AccountRecord{}, authgate.ErrAccountNotFound
	}
	return *record, nil
}

func (p *Provider) CreateAccount(_ context.Context, input authgate.CreateAccountInput) (authgate.AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email := strings.ToLower(input.Email)
	if _, exists := p.byEmail[email]; exists {
		return authgate.AccountRecord{}, authgate.ErrAccountExists
	}

	record := &authgate.AccountRecord{
		AccountID:    uuid.NewString(),
		Email:        email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
	}
	p.accounts[record.AccountID] = record
	p.byEmail[email] = record.AccountID
	return *record, nil
}

func (p *Provider) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	record.PasswordHash = newHash
	return nil
}

func (p *Provider) MarkEmailVerified(_ context.Context, accountID string, verifiedAt int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	record.EmailVerifiedAt = verifiedAt
	return nil
}

func (p *Provider) UpdateEmail(_ context.Context, accountID, newEmail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	delete(p.byEmail, record.Email)
	record.Email = strings.ToLower(newEmail)
	p.byEmail[record.Email] = accountID
	return nil
}

func (p *Provider) GetTOTPSecret(_ context.Context, accountID string) (*authgate.TOTPRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.totp[accountID]
	if !ok {
		return nil, nil
	}
	clone := *record
	clone.Secret = append([]byte(nil), record.Secret...)
	return &clone, nil
}

func (p *Provider) EnableTOTP(_ context.Context, accountID string, secret []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[accountID]; !ok {
		return authgate.ErrAccountNotFound
	}
	p.totp[accountID] = &authgate.TOTPRecord{
		Secret:  append([]byte(nil), secret...),
		Enabled: true,
	}
	return nil
}

func (p *Provider) ConfirmTOTP(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.totp[accountID]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	record.Confirmed = true
	if account, ok := p.accounts[accountID]; ok {
		account.TwoFactorEnabled = true
	}
	return nil
}

func (p *Provider) DisableTOTP(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.totp, accountID)
	if account, ok := p.accounts[accountID]; ok {
		account.TwoFactorEnabled = false
	}
	return nil
}

func (p *Provider) ReplaceBackupCodes(_ context.Context, accountID string, codes []authgate.BackupCodeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(codes) == 0 {
		delete(p.backupCodes, accountID)
		return nil
	}
	p.backupCodes[accountID] = append([]authgate.BackupCodeRecord(nil), codes...)
	return nil
}

func (p *Provider) ConsumeBackupCode(_ context.Context, accountID string, codeHash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	codes := p.backupCodes[accountID]
	for i, record := range codes {
		if record.Hash == codeHash {
			p.backupCodes[accountID] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
