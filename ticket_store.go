package authgate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ticketKeyPrefix      = "apt"
	ticketRecordVersion1 = 1
)

var (
	errTicketNotFound = errors.New("pending ticket not found")
	errTicketExpired  = errors.New("pending ticket expired")
	errTicketBackend  = errors.New("pending ticket backend unavailable")
)

// pendingTicket is the stored proof that a password was validated for this
// login attempt. It carries no authorization beyond "may attempt second
// factor verification for AccountID".
type pendingTicket struct {
	AccountID string
	Role      string
	ExpiresAt int64
	Attempts  uint16
}

type pendingTicketStore struct {
	redis redis.UniversalClient
}

func newPendingTicketStore(redisClient redis.UniversalClient) *pendingTicketStore {
	return &pendingTicketStore{redis: redisClient}
}

func (s *pendingTicketStore) key(ticketID string) string {
	return ticketKeyPrefix + ":" + ticketID
}

func (s *pendingTicketStore) Save(ctx context.Context, ticketID string, record *pendingTicket, ttl time.Duration) error {
	encoded, err := encodePendingTicket(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ticketID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errTicketBackend, err)
	}
	return nil
}

func (s *pendingTicketStore) Get(ctx context.Context, ticketID string) (*pendingTicket, error) {
	data, err := s.redis.Get(ctx, s.key(ticketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errTicketNotFound
		}
		return nil, fmt.Errorf("%w: %v", errTicketBackend, err)
	}

	record, err := decodePendingTicket(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(ticketID)).Result()
		return nil, errTicketExpired
	}
	return record, nil
}

// Delete removes the ticket and reports whether this caller removed it. Two
// racing redemptions see exactly one true; the loser treats it as replay.
func (s *pendingTicketStore) Delete(ctx context.Context, ticketID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(ticketID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTicketBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the per-ticket failure counter under WATCH and
// destroys the ticket when maxAttempts is reached. Returns true when this
// failure exhausted the budget.
func (s *pendingTicketStore) RecordFailure(ctx context.Context, ticketID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(ticketID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePendingTicket(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return errTicketExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return errTicketExpired
			}

			updated, err := encodePendingTicket(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, errTicketNotFound
			}
			if errors.Is(err, errTicketExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", errTicketBackend, err)
		}
		return exceeded, nil
	}

	return false, errTicketNotFound
}

func encodePendingTicket(record *pendingTicket) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(ticketRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 || len(record.Role) > 65535 {
		return nil, errors.New("pending ticket field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Role))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Role)

	return buf.Bytes(), nil
}

func decodePendingTicket(data []byte) (*pendingTicket, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != ticketRecordVersion1 {
		return nil, errors.New("invalid pending ticket version")
	}

	record := &pendingTicket{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&record.AccountID, &record.Role} {
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
