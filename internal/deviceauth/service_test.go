package deviceauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/logsentry/logsentry/internal/model"
)

type fakeAppRegistry struct {
	apps map[string]model.App
	keys map[string]string
}

func newFakeAppRegistry() *fakeAppRegistry {
	return &fakeAppRegistry{apps: map[string]model.App{}, keys: map[string]string{}}
}

func (f *fakeAppRegistry) CreateOrGetApp(ctx context.Context, ownerID, name string) (model.App, error) {
	key := ownerID + "/" + name
	if app, ok := f.apps[key]; ok {
		return app, nil
	}
	app := model.App{ID: key, OwnerID: ownerID, Name: name, CreatedAt: time.Now()}
	f.apps[key] = app
	return app, nil
}

func (f *fakeAppRegistry) CreateAPIKey(ctx context.Context, appID, indexKey, keyHash string) error {
	f.keys[keyHash] = appID
	return nil
}

func newTestService(t *testing.T) (*Service, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(rdb)
	apps := newFakeAppRegistry()
	svc := NewService(store, apps, Config{Pepper: "pepper", VerificationURL: "https://example.test/device", DSN: "https://ingest.example.test"})
	return svc, store
}

func TestDeviceAuthHappyPath(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	start, err := svc.Start(ctx, "api", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(start.UserCode) != userCodeLength {
		t.Fatalf("user code length = %d, want %d", len(start.UserCode), userCodeLength)
	}

	poll, err := svc.Poll(ctx, start.DeviceCode, 0)
	if err != nil {
		t.Fatalf("Poll (pending): %v", err)
	}
	if poll.Status != PollPending {
		t.Fatalf("status = %s, want pending", poll.Status)
	}

	complete, err := svc.Complete(ctx, start.UserCode, "user-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if complete.AppID == "" {
		t.Fatalf("expected non-empty app id")
	}

	// Polls of a completed session are not rate-limited.
	time.Sleep(10 * time.Millisecond)
	poll, err = svc.Poll(ctx, start.DeviceCode, time.Millisecond)
	if err != nil {
		t.Fatalf("Poll (first read): %v", err)
	}
	if poll.Status != PollOK || poll.APIKey == "" {
		t.Fatalf("poll = %+v, want ok with a key", poll)
	}

	time.Sleep(10 * time.Millisecond)
	poll, err = svc.Poll(ctx, start.DeviceCode, time.Millisecond)
	if err != nil {
		t.Fatalf("Poll (second read): %v", err)
	}
	if poll.Status != PollConsumed {
		t.Fatalf("status = %s, want consumed", poll.Status)
	}
}

func TestDeviceAuthPollRateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	start, err := svc.Start(ctx, "api", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := svc.Poll(ctx, start.DeviceCode, time.Minute); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	_, err = svc.Poll(ctx, start.DeviceCode, time.Minute)
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestDeviceAuthCompleteUnknownUserCode(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Complete(context.Background(), "ZZZZZZZZ", "user-1")
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDeviceAuthSweepExpired(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	start, err := svc.Start(ctx, "api", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Force the session into the past so the sweep picks it up.
	sess, err := store.GetByDeviceCode(ctx, start.DeviceCode)
	if err != nil {
		t.Fatalf("GetByDeviceCode: %v", err)
	}
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.rdb.ZAdd(ctx, expiryZSet, redis.Z{Score: float64(sess.ExpiresAt.Unix()), Member: sess.DeviceCode}).Err(); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	swept, err := svc.SweepExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, err := store.GetByDeviceCode(ctx, start.DeviceCode)
	if err != nil {
		t.Fatalf("GetByDeviceCode after sweep: %v", err)
	}
	if got.Status != model.DeviceStatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	poll, err := svc.Poll(ctx, start.DeviceCode, time.Millisecond)
	if err != nil {
		t.Fatalf("Poll after sweep: %v", err)
	}
	if poll.Status != PollExpired {
		t.Fatalf("poll status = %s, want expired", poll.Status)
	}
}
