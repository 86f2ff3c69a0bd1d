// Package deviceauth implements the device-authorization protocol
// (spec §4.I): the start/complete/poll handshake, backed by Redis so
// session TTLs fall out of the store instead of being hand-rolled.
package deviceauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logsentry/logsentry/internal/model"
)

const (
	sessionPrefix = "devsess:code:"
	userCodeIndex = "devsess:usercode:"
	expiryZSet    = "devsess:expiry"
	pollRatePfx   = "devsess:pollrate:"

	// minSessionTTL floors the Redis key TTL so a session already past
	// expires_at still lingers long enough for the janitor sweep (§5)
	// to observe and report it as expired, rather than vanishing first.
	minSessionTTL = 30 * time.Second
)

// sessionTTL derives the Redis key TTL from the session's own
// expires_at, so Redis's native expiry fires at the same moment the
// session logically expires instead of 144x later.
func sessionTTL(sess model.DeviceSession) time.Duration {
	ttl := sess.ExpiresAt.Sub(time.Now())
	if ttl < minSessionTTL {
		return minSessionTTL
	}
	return ttl
}

// ErrNotFound is returned when no session matches the given code.
var ErrNotFound = model.ErrSessionNotFound

// Store is the Redis-backed DeviceSession coordination store (§3 DeviceSession).
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Dial connects to addr and verifies connectivity.
func Dial(ctx context.Context, addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  1 * time.Second, // §5 "Device-session operations: 1s"
		WriteTimeout: 1 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("deviceauth: connect: %w", err)
	}
	return NewStore(rdb), nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error { return s.rdb.Close() }

func sessionKey(deviceCode string) string  { return sessionPrefix + deviceCode }
func userCodeKey(userCode string) string   { return userCodeIndex + userCode }
func pollRateKey(deviceCode string) string { return pollRatePfx + deviceCode }

// Create inserts a new pending session (§4.I start).
func (s *Store) Create(ctx context.Context, sess model.DeviceSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("deviceauth: marshal session: %w", err)
	}

	ttl := sessionTTL(sess)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.DeviceCode), data, ttl)
	pipe.Set(ctx, userCodeKey(sess.UserCode), sess.DeviceCode, ttl)
	pipe.ZAdd(ctx, expiryZSet, redis.Z{Score: float64(sess.ExpiresAt.Unix()), Member: sess.DeviceCode})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deviceauth: create session: %w", err)
	}
	return nil
}

// GetByDeviceCode fetches a session by its device_code.
func (s *Store) GetByDeviceCode(ctx context.Context, deviceCode string) (model.DeviceSession, error) {
	data, err := s.rdb.Get(ctx, sessionKey(deviceCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.DeviceSession{}, ErrNotFound
	}
	if err != nil {
		return model.DeviceSession{}, fmt.Errorf("deviceauth: get session: %w", err)
	}
	var sess model.DeviceSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return model.DeviceSession{}, fmt.Errorf("deviceauth: unmarshal session: %w", err)
	}
	return sess, nil
}

// GetByUserCode resolves a user_code to its session.
func (s *Store) GetByUserCode(ctx context.Context, userCode string) (model.DeviceSession, error) {
	deviceCode, err := s.rdb.Get(ctx, userCodeKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return model.DeviceSession{}, ErrNotFound
	}
	if err != nil {
		return model.DeviceSession{}, fmt.Errorf("deviceauth: get user code index: %w", err)
	}
	return s.GetByDeviceCode(ctx, deviceCode)
}

// put overwrites the stored session, resetting its TTL from the
// session's expires_at (sessionTTL).
func (s *Store) put(ctx context.Context, sess model.DeviceSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("deviceauth: marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.DeviceCode), data, sessionTTL(sess)).Err(); err != nil {
		return fmt.Errorf("deviceauth: put session: %w", err)
	}
	return nil
}

// CompareAndSwap atomically loads the current session, applies mutate,
// and writes it back — used so complete/poll transitions never race
// with the janitor's expiry sweep. Redis WATCH/MULTI provides the
// optimistic-lock semantics; on a conflicting concurrent write the
// caller's mutate simply sees an up-to-date value on retry.
func (s *Store) CompareAndSwap(ctx context.Context, deviceCode string, mutate func(model.DeviceSession) (model.DeviceSession, error)) (model.DeviceSession, error) {
	var result model.DeviceSession
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, sessionKey(deviceCode)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("deviceauth: cas get: %w", err)
		}
		var sess model.DeviceSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("deviceauth: cas unmarshal: %w", err)
		}

		updated, err := mutate(sess)
		if err != nil {
			return err
		}

		encoded, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("deviceauth: cas marshal: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(deviceCode), encoded, sessionTTL(updated))
			return nil
		})
		if err != nil {
			return fmt.Errorf("deviceauth: cas write: %w", err)
		}
		result = updated
		return nil
	}

	err := s.rdb.Watch(ctx, txf, sessionKey(deviceCode))
	if err != nil {
		return model.DeviceSession{}, err
	}
	return result, nil
}

// CheckPollRate enforces the §4.I poll rate limit of 1 request per
// poll_interval_seconds per device_code via SETNX-with-TTL.
func (s *Store) CheckPollRate(ctx context.Context, deviceCode string, interval time.Duration) (allowed bool, err error) {
	ok, err := s.rdb.SetNX(ctx, pollRateKey(deviceCode), "1", interval).Result()
	if err != nil {
		return false, fmt.Errorf("deviceauth: poll rate check: %w", err)
	}
	return ok, nil
}

// DueForExpiry returns device_codes whose expires_at has passed as of now,
// for the janitor sweep (§5). limit bounds how many are returned per sweep.
func (s *Store) DueForExpiry(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	codes, err := s.rdb.ZRangeByScore(ctx, expiryZSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("deviceauth: due for expiry: %w", err)
	}
	return codes, nil
}

// RemoveFromExpiryIndex drops deviceCode from the expiry sweep index,
// called once its status has been moved to expired (or it completed
// before expiring) so the janitor does not keep revisiting it.
func (s *Store) RemoveFromExpiryIndex(ctx context.Context, deviceCode string) error {
	if err := s.rdb.ZRem(ctx, expiryZSet, deviceCode).Err(); err != nil {
		return fmt.Errorf("deviceauth: remove from expiry index: %w", err)
	}
	return nil
}
