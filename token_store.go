package authgate

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix       = "avt"
	tokenLatestKeyPrefix = "avl"
	tokenRecordVersion1  = 1
)

var (
	errTokenNotFound = errors.New("verification token not found")
	errTokenExpired  = errors.New("verification token expired")
	errTokenConsumed = errors.New("verification token already consumed")
	errTokenBackend  = errors.New("verification token backend unavailable")
)

// verificationToken is the persisted half of an opaque token. Only the
// secret's hash is stored; a database leak yields nothing redeemable.
type verificationToken struct {
	AccountID  string
	Purpose    TokenPurpose
	SecretHash [32]byte
	ExpiresAt  int64
	ConsumedAt int64

	// Payload carries purpose-specific context, e.g. the replacement
	// address for an email change.
	Payload string
}

type verificationTokenStore struct {
	redis redis.UniversalClient
}

func newVerificationTokenStore(redisClient redis.UniversalClient) *verificationTokenStore {
	return &verificationTokenStore{redis: redisClient}
}

func (s *verificationTokenStore) key(purpose TokenPurpose, tokenID string) string {
	return tokenKeyPrefix + ":" + purpose.String() + ":" + tokenID
}

func (s *verificationTokenStore) latestKey(purpose TokenPurpose, accountID string) string {
	return tokenLatestKeyPrefix + ":" + purpose.String() + ":" + accountID
}

// Save persists a new token and invalidates any prior unconsumed token of the
// same purpose for the same account, so at most one reset link is live.
func (s *verificationTokenStore) Save(ctx context.Context, tokenID string, record *verificationToken, ttl time.Duration) error {
	encoded, err := encodeVerificationToken(record)
	if err != nil {
		return err
	}

	latest := s.latestKey(record.Purpose, record.AccountID)
	prior, err := s.redis.GetDel(ctx, latest).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	if prior != "" {
		if err := s.redis.Del(ctx, s.key(record.Purpose, prior)).Err(); err != nil {
			return fmt.Errorf("%w: %v", errTokenBackend, err)
		}
	}

	if err := s.redis.Set(ctx, s.key(record.Purpose, tokenID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	if err := s.redis.Set(ctx, latest, tokenID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return nil
}

// Consume redeems a token exactly once. Checks run in order: existence,
// expiry, consumed-state, secret match. The winner's record is kept as a
// tombstone with ConsumedAt set until its natural expiry, so a replay is
// answered "already used" rather than "not found".
func (s *verificationTokenStore) Consume(
	ctx context.Context,
	purpose TokenPurpose,
	tokenID string,
	providedHash [32]byte,
) (*verificationToken, error) {
	const maxRetries = 4
	key := s.key(purpose, tokenID)

	for i := 0; i < maxRetries; i++ {
		var consumed *verificationToken

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationToken(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return errTokenExpired
			}
			if record.ConsumedAt > 0 {
				return errTokenConsumed
			}
			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return errTokenNotFound
			}

			record.ConsumedAt = now.Unix()
			updated, err := encodeVerificationToken(record)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				ttl = time.Second
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				pipe.Del(ctx, s.latestKey(record.Purpose, record.AccountID))
				return nil
			}); err != nil {
				return err
			}

			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, errTokenNotFound
			}
			if errors.Is(err, errTokenExpired) || errors.Is(err, errTokenConsumed) || errors.Is(err, errTokenNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errTokenBackend, err)
		}
		return consumed, nil
	}

	return nil, errTokenNotFound
}

// Restore clears ConsumedAt after the authorized side effect failed, so the
// user's link is not burnt with no benefit. Best effort: a crash between
// Consume and Restore leaves the token consumed, never replayable.
func (s *verificationTokenStore) Restore(ctx context.Context, purpose TokenPurpose, tokenID string) error {
	key := s.key(purpose, tokenID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errTokenNotFound
		}
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}

	record, err := decodeVerificationToken(data)
	if err != nil {
		return err
	}
	record.ConsumedAt = 0

	encoded, err := encodeVerificationToken(record)
	if err != nil {
		return err
	}
	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl <= 0 {
		return errTokenExpired
	}
	if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTokenBackend, err)
	}
	return nil
}

func encodeVerificationToken(record *verificationToken) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tokenRecordVersion1)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ConsumedAt); err != nil {
		return nil, err
	}
	buf.Write(record.SecretHash[:])

	if len(record.AccountID) > 65535 || len(record.Payload) > 65535 {
		return nil, errors.New("verification token field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Payload))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Payload)

	return buf.Bytes(), nil
}

func decodeVerificationToken(data []byte) (*verificationToken, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersion1 {
		return nil, errors.New("invalid verification token version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &verificationToken{Purpose: TokenPurpose(purpose)}
	if !record.Purpose.valid() {
		return nil, errors.New("invalid verification token purpose")
	}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ConsumedAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&record.AccountID, &record.Payload} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*dst = string(raw)
	}

	return record, nil
}
