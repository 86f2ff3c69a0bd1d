package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/logsentry/logsentry/internal/apikey"
	"github.com/logsentry/logsentry/internal/model"
)

// SessionLifetime is the device session's total validity window (§3:
// expires_at - created_at <= 15 minutes).
const SessionLifetime = 10 * time.Minute

// PollIntervalSeconds is advertised to pollers in the start response (§4.I).
const PollIntervalSeconds = 2

// AppRegistry is the narrow contract Service needs from the app/key
// registry (§4.C) to complete an onboarding handshake.
type AppRegistry interface {
	CreateOrGetApp(ctx context.Context, ownerID, name string) (model.App, error)
	CreateAPIKey(ctx context.Context, appID, indexKey, keyHash string) error
}

// Service implements the three device-authorization operations of §4.I
// over a Store and an AppRegistry.
type Service struct {
	store           *Store
	apps            AppRegistry
	pepper          string
	verificationURL string
	dsn             string
}

// Config configures a Service.
type Config struct {
	Pepper          string
	VerificationURL string
	DSN             string
}

// NewService builds a device-auth Service.
func NewService(store *Store, apps AppRegistry, cfg Config) *Service {
	return &Service{
		store:           store,
		apps:            apps,
		pepper:          cfg.Pepper,
		verificationURL: cfg.VerificationURL,
		dsn:             cfg.DSN,
	}
}

// StartResult is returned by Start.
type StartResult struct {
	DeviceCode          string
	UserCode            string
	VerificationURL     string
	PollIntervalSeconds int
}

// Start creates a new pending DeviceSession (§4.I start).
func (s *Service) Start(ctx context.Context, appName, description string) (StartResult, error) {
	deviceCode, err := NewDeviceCode()
	if err != nil {
		return StartResult{}, err
	}
	userCode, err := NewUserCode()
	if err != nil {
		return StartResult{}, err
	}

	now := time.Now()
	sess := model.DeviceSession{
		DeviceCode:  deviceCode,
		UserCode:    userCode,
		Status:      model.DeviceStatusPending,
		AppName:     appName,
		Description: description,
		CreatedAt:   now,
		ExpiresAt:   now.Add(SessionLifetime),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return StartResult{}, err
	}

	return StartResult{
		DeviceCode:          deviceCode,
		UserCode:            userCode,
		VerificationURL:     s.verificationURL,
		PollIntervalSeconds: PollIntervalSeconds,
	}, nil
}

// CompleteResult is returned by Complete.
type CompleteResult struct {
	AppID string
}

// Complete binds a pending session to an authenticated user, mints an
// App and ApiKey, and advances the session to completed (§4.I complete).
func (s *Service) Complete(ctx context.Context, userCode, userID string) (CompleteResult, error) {
	sess, err := s.store.GetByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CompleteResult{}, model.ErrSessionNotFound
		}
		return CompleteResult{}, err
	}

	now := time.Now()
	if sess.Status != model.DeviceStatusPending {
		return CompleteResult{}, model.ErrSessionConsumed
	}
	if sess.Expired(now) {
		return CompleteResult{}, model.ErrSessionExpired
	}

	app, err := s.apps.CreateOrGetApp(ctx, userID, sess.AppName)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("deviceauth: complete: %w", err)
	}

	plaintext, err := apikey.GeneratePlaintext()
	if err != nil {
		return CompleteResult{}, err
	}
	hash, err := apikey.Hash(plaintext, s.pepper)
	if err != nil {
		return CompleteResult{}, err
	}
	indexKey := apikey.IndexKey(plaintext, s.pepper)
	if err := s.apps.CreateAPIKey(ctx, app.ID, indexKey, hash); err != nil {
		return CompleteResult{}, fmt.Errorf("deviceauth: complete: %w", err)
	}

	updated, err := s.store.CompareAndSwap(ctx, sess.DeviceCode, func(cur model.DeviceSession) (model.DeviceSession, error) {
		if cur.Status != model.DeviceStatusPending {
			return model.DeviceSession{}, model.ErrSessionConsumed
		}
		cur.Status = model.DeviceStatusCompleted
		cur.UserID = userID
		cur.AppID = app.ID
		cur.APIKeyPlaintext = plaintext
		cur.ApprovedAt = now
		return cur, nil
	})
	if err != nil {
		return CompleteResult{}, err
	}
	_ = s.store.RemoveFromExpiryIndex(ctx, updated.DeviceCode)

	return CompleteResult{AppID: app.ID}, nil
}

// PollStatus is the poll-response discriminant (§4.I poll).
type PollStatus string

const (
	PollPending  PollStatus = "pending"
	PollExpired  PollStatus = "expired"
	PollOK       PollStatus = "ok"
	PollConsumed PollStatus = "consumed"
)

// PollResult is returned by Poll.
type PollResult struct {
	Status PollStatus
	APIKey string
	AppID  string
	DSN    string
}

// Poll reports the session's status, clearing the plaintext key on its
// single successful read (§3 invariant 3, §4.I poll). Polls of a
// pending session are rate-limited to one per pollInterval per
// device_code; polls of a completed or expired session are not.
func (s *Service) Poll(ctx context.Context, deviceCode string, pollInterval time.Duration) (PollResult, error) {
	if pollInterval <= 0 {
		pollInterval = PollIntervalSeconds * time.Second
	}

	sess, err := s.store.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PollResult{}, model.ErrSessionNotFound
		}
		return PollResult{}, err
	}

	now := time.Now()
	if sess.Status != model.DeviceStatusCompleted && sess.Expired(now) {
		return PollResult{Status: PollExpired}, nil
	}

	switch sess.Status {
	case model.DeviceStatusPending, model.DeviceStatusApproved:
		allowed, err := s.store.CheckPollRate(ctx, deviceCode, pollInterval)
		if err != nil {
			return PollResult{}, err
		}
		if !allowed {
			return PollResult{}, model.ErrRateLimited
		}
		return PollResult{Status: PollPending}, nil
	case model.DeviceStatusExpired:
		return PollResult{Status: PollExpired}, nil
	case model.DeviceStatusCompleted:
		if sess.APIKeyPlaintext == "" {
			return PollResult{Status: PollConsumed}, nil
		}
		// The read-and-clear must happen inside the same optimistic
		// transaction: two concurrent pollers racing a plain read would
		// otherwise both observe the plaintext before either clears it
		// (§3 invariant 3 — readable at most once).
		var claimed string
		var alreadyConsumed bool
		_, err := s.store.CompareAndSwap(ctx, deviceCode, func(cur model.DeviceSession) (model.DeviceSession, error) {
			if cur.APIKeyPlaintext == "" {
				alreadyConsumed = true
				return cur, nil
			}
			claimed = cur.APIKeyPlaintext
			cur.APIKeyPlaintext = ""
			return cur, nil
		})
		if err != nil {
			return PollResult{}, err
		}
		if alreadyConsumed {
			return PollResult{Status: PollConsumed}, nil
		}
		return PollResult{Status: PollOK, APIKey: claimed, AppID: sess.AppID, DSN: s.dsn}, nil
	default:
		return PollResult{Status: PollConsumed}, nil
	}
}

// SweepExpired advances any session past its deadline to expired and
// drops it from the expiry index (§5 janitor task, every 30s).
func (s *Service) SweepExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	due, err := s.store.DueForExpiry(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, deviceCode := range due {
		_, err := s.store.CompareAndSwap(ctx, deviceCode, func(cur model.DeviceSession) (model.DeviceSession, error) {
			if cur.Status == model.DeviceStatusCompleted {
				return cur, nil // completed sessions are terminal; leave them
			}
			cur.Status = model.DeviceStatusExpired
			return cur, nil
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			continue
		}
		_ = s.store.RemoveFromExpiryIndex(ctx, deviceCode)
		swept++
	}
	return swept, nil
}
