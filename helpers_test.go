package authgate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/karwick/authgate/password"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-horse-battery"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password = password.Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *miniredis.Miniredis, *stubProvider) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	provider := newStubProvider()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("engine build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, mr, provider
}

func seedAccount(t *testing.T, cfg Config, provider *stubProvider, verified bool) AccountRecord {
	t.Helper()

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		t.Fatalf("argon2 init: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("argon2 hash: %v", err)
	}

	record := AccountRecord{
		AccountID:    "account-1",
		Email:        testEmail,
		PasswordHash: hash,
		Role:         "member",
	}
	if verified {
		record.EmailVerifiedAt = time.Now().Unix()
	}
	provider.put(record)
	return record
}

// enableTestTOTP walks enrollment end to end and returns the shared secret.
func enableTestTOTP(t *testing.T, engine *Engine, accountID string) string {
	t.Helper()

	setup, err := engine.GenerateTOTPSetup(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GenerateTOTPSetup failed: %v", err)
	}
	if setup.SecretBase32 == "" || setup.OtpauthURL == "" {
		t.Fatal("expected populated TOTP setup")
	}

	if err := engine.ConfirmTOTPSetup(context.Background(), accountID, totpCode(t, setup.SecretBase32)); err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	return setup.SecretBase32
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	return code
}

// stubProvider is the in-memory account store used across engine tests.
type stubProvider struct {
	mu          sync.Mutex
	accounts    map[string]*AccountRecord
	byEmail     map[string]string
	totp        map[string]*TOTPRecord
	backupCodes map[string][]BackupCodeRecord
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		accounts:    make(map[string]*AccountRecord),
		byEmail:     make(map[string]string),
		totp:        make(map[string]*TOTPRecord),
		backupCodes: make(map[string][]BackupCodeRecord),
	}
}

func (p *stubProvider) put(record AccountRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := record
	p.accounts[record.AccountID] = &clone
	p.byEmail[strings.ToLower(record.Email)] = record.AccountID
}

func (p *stubProvider) get(accountID string) AccountRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.accounts[accountID]
}

func (p *stubProvider) GetAccountByEmail(_ context.Context, email string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byEmail[strings.ToLower(email)]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return *p.accounts[id], nil
}

func (p *stubProvider) GetAccountByID(_ context.Context, accountID string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return *record, nil
}

func (p *stubProvider) CreateAccount(_ context.Context, input CreateAccountInput) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email := strings.ToLower(input.Email)
	if _, exists := p.byEmail[email]; exists {
		return AccountRecord{}, ErrAccountExists
	}
	record := &AccountRecord{
		AccountID:    "acct-" + email,
		Email:        email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
	}
	p.accounts[record.AccountID] = record
	p.byEmail[email] = record.AccountID
	return *record, nil
}

func (p *stubProvider) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	record.PasswordHash = newHash
	return nil
}

func (p *stubProvider) MarkEmailVerified(_ context.Context, accountID string, verifiedAt int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	record.EmailVerifiedAt = verifiedAt
	return nil
}

func (p *stubProvider) UpdateEmail(_ context.Context, accountID, newEmail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	delete(p.byEmail, record.Email)
	record.Email = strings.ToLower(newEmail)
	p.byEmail[record.Email] = accountID
	return nil
}

func (p *stubProvider) GetTOTPSecret(_ context.Context, accountID string) (*TOTPRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.totp[accountID]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (p *stubProvider) EnableTOTP(_ context.Context, accountID string, secret []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totp[accountID] = &TOTPRecord{Secret: append([]byte(nil), secret...), Enabled: true}
	return nil
}

func (p *stubProvider) ConfirmTOTP(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.totp[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	record.Confirmed = true
	if account, ok := p.accounts[accountID]; ok {
		account.TwoFactorEnabled = true
	}
	return nil
}

func (p *stubProvider) DisableTOTP(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.totp, accountID)
	if account, ok := p.accounts[accountID]; ok {
		account.TwoFactorEnabled = false
	}
	return nil
}

func (p *stubProvider) ReplaceBackupCodes(_ context.Context, accountID string, codes []BackupCodeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(codes) == 0 {
		delete(p.backupCodes, accountID)
		return nil
	}
	p.backupCodes[accountID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (p *stubProvider) ConsumeBackupCode(_ context.Context, accountID string, codeHash [32]byte) (bool, error) {
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
