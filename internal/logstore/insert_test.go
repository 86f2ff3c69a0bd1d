package logstore

import (
	"sync"
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

func TestInsertBufferFlushesOnBatchSize(t *testing.T) {
	store := newTestStore(t)

	var mu sync.Mutex
	var flushes int
	buf := NewInsertBuffer(store, InsertBufferConfig{
		BatchSize:     3,
		FlushInterval: time.Hour,
		OnFlush: func(batch []model.PersistedLog, err error) {
			mu.Lock()
			flushes++
			mu.Unlock()
		},
	})
	t.Cleanup(buf.Stop)

	now := time.Now()
	for i := 0; i < 3; i++ {
		buf.Add(model.PersistedLog{AppID: "app1", Timestamp: now, IngestedAt: now, Level: model.LevelInfo, Service: "api", Message: "x", Fingerprint: "fp"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := flushes
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	count, err := store.CountByApp("app1")
	if err != nil {
		t.Fatalf("CountByApp: %v", err)
	}
	if count != 3 {
		t.Fatalf("CountByApp = %d, want 3 after batch-size flush", count)
	}
}

func TestInsertBufferFlushesOnStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 1000, FlushInterval: time.Hour})

	now := time.Now()
	buf.Add(model.PersistedLog{AppID: "app1", Timestamp: now, IngestedAt: now, Level: model.LevelInfo, Service: "api", Message: "x", Fingerprint: "fp"})
	buf.Stop()

	count, err := store.CountByApp("app1")
	if err != nil {
		t.Fatalf("CountByApp: %v", err)
	}
	if count != 1 {
		t.Fatalf("CountByApp = %d, want 1 after Stop drains pending records", count)
	}
}

func TestInsertBufferFlushesOnTicker(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 1000, FlushInterval: 20 * time.Millisecond})
	t.Cleanup(buf.Stop)

	now := time.Now()
	buf.Add(model.PersistedLog{AppID: "app1", Timestamp: now, IngestedAt: now, Level: model.LevelInfo, Service: "api", Message: "x", Fingerprint: "fp"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.CountByApp("app1")
		if err != nil {
			t.Fatalf("CountByApp: %v", err)
		}
		if count == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected the ticker to flush the pending record within 2s")
}
