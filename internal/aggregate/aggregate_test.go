package aggregate

import (
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

func mkLog(level model.Level, fp string, ts time.Time) model.PersistedLog {
	return model.PersistedLog{Level: level, Fingerprint: fp, Timestamp: ts, Message: "x"}
}

func TestUpdateCountsByLevel(t *testing.T) {
	a := New(model.AggregateKey{AppID: "app1", Service: "svc"})
	now := time.Now()
	a.Update([]model.PersistedLog{
		mkLog(model.LevelInfo, "", now),
		mkLog(model.LevelError, "fp1", now),
		mkLog(model.LevelError, "fp1", now),
	}, now)

	snap := a.Snapshot(now)
	if snap.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3", snap.TotalCount)
	}
	if snap.PerLevelCount[model.LevelError] != 2 {
		t.Fatalf("PerLevelCount[ERROR] = %d, want 2", snap.PerLevelCount[model.LevelError])
	}
	if snap.MostCommonErrorFP != "fp1" || snap.MostCommonErrorCnt != 2 {
		t.Fatalf("most common = %q/%d, want fp1/2", snap.MostCommonErrorFP, snap.MostCommonErrorCnt)
	}
}

func TestErrorsPer10LogsWindowing(t *testing.T) {
	a := New(model.AggregateKey{AppID: "app1", Service: "svc"})
	now := time.Now()

	var batch []model.PersistedLog
	for i := 0; i < 10; i++ {
		if i < 3 {
			batch = append(batch, mkLog(model.LevelError, "fp1", now))
		} else {
			batch = append(batch, mkLog(model.LevelInfo, "", now))
		}
	}
	a.Update(batch, now)

	snap := a.Snapshot(now)
	if len(snap.ErrorsPer10Logs) != 1 || snap.ErrorsPer10Logs[0] != 3 {
		t.Fatalf("ErrorsPer10Logs = %v, want [3]", snap.ErrorsPer10Logs)
	}

	// A partial window (< 10 records) should not yet land in the series.
	a.Update([]model.PersistedLog{mkLog(model.LevelError, "fp1", now)}, now)
	snap = a.Snapshot(now)
	if len(snap.ErrorsPer10Logs) != 1 {
		t.Fatalf("ErrorsPer10Logs = %v, want still length 1 for a partial window", snap.ErrorsPer10Logs)
	}
}

func TestRingCapBoundsSeriesLength(t *testing.T) {
	a := New(model.AggregateKey{AppID: "app1", Service: "svc"})
	now := time.Now()

	for w := 0; w < model.MaxErrorWindow+5; w++ {
		var batch []model.PersistedLog
		for i := 0; i < windowSize; i++ {
			batch = append(batch, mkLog(model.LevelInfo, "", now))
		}
		a.Update(batch, now)
	}

	snap := a.Snapshot(now)
	if len(snap.ErrorsPer10Logs) != model.MaxErrorWindow {
		t.Fatalf("len(ErrorsPer10Logs) = %d, want %d", len(snap.ErrorsPer10Logs), model.MaxErrorWindow)
	}
}

func TestRecentErrorCountPrunedAfterTenMinutes(t *testing.T) {
	a := New(model.AggregateKey{AppID: "app1", Service: "svc"})
	t0 := time.Now()

	a.Update([]model.PersistedLog{mkLog(model.LevelError, "fp1", t0)}, t0)
	snap := a.Snapshot(t0)
	if snap.RecentErrorCountsFP["fp1"] != 1 {
		t.Fatalf("recent count = %d, want 1", snap.RecentErrorCountsFP["fp1"])
	}

	later := t0.Add(11 * time.Minute)
	snap = a.Snapshot(later)
	if _, ok := snap.RecentErrorCountsFP["fp1"]; ok {
		t.Fatalf("expected fp1 to be pruned from recent counts after 11 minutes, got %v", snap.RecentErrorCountsFP)
	}
}

func TestHealthClassification(t *testing.T) {
	a := New(model.AggregateKey{AppID: "app1", Service: "svc"})
	now := time.Now()

	snap := a.Snapshot(now)
	if snap.Health != model.HealthHealthy {
		t.Fatalf("empty aggregate health = %s, want healthy", snap.Health)
	}

	// Push enough full error windows to push the rolling average to
	// the unhealthy threshold (>= 5 errors per 10 logs).
	for w := 0; w < 3; w++ {
		var batch []model.PersistedLog
		for i := 0; i < windowSize; i++ {
			batch = append(batch, mkLog(model.LevelError, "fp1", now))
		}
		a.Update(batch, now)
	}

	snap = a.Snapshot(now)
	if snap.Health != model.HealthUnhealthy {
		t.Fatalf("health = %s, want unhealthy (avg=%v)", snap.Health, snap.AvgErrorsPer10Logs)
	}
}

func TestRecentErrorsCappedAndMostRecentFirst(t *testing.T) {
	a := New(model.AggregateKey{AppID: "app1", Service: "svc"})
	now := time.Now()

	for i := 0; i < model.MaxRecentErrors+10; i++ {
		a.Update([]model.PersistedLog{mkLog(model.LevelError, "fp1", now.Add(time.Duration(i)*time.Second))}, now)
	}

	snap := a.Snapshot(now)
	if len(snap.RecentErrors) != model.MaxRecentErrors {
		t.Fatalf("len(RecentErrors) = %d, want %d", len(snap.RecentErrors), model.MaxRecentErrors)
	}
	// The most recently added record carries the highest offset timestamp.
	if !snap.RecentErrors[0].Timestamp.After(snap.RecentErrors[1].Timestamp) {
		t.Fatalf("expected RecentErrors[0] to be the most recent")
	}
}

func TestHandlePublishAndLoad(t *testing.T) {
	h := NewHandle()
	if _, ok := h.Load(); ok {
		t.Fatalf("expected no snapshot before Publish")
	}
	snap := model.AggregateSnapshot{AppID: "app1", TotalCount: 42}
	h.Publish(snap)
	got, ok := h.Load()
	if !ok || got.TotalCount != 42 {
		t.Fatalf("Load() = %+v, %v; want TotalCount=42, true", got, ok)
	}
}

func TestTopFingerprints(t *testing.T) {
	snap := model.AggregateSnapshot{RecentErrorCountsFP: map[string]int64{
		"a": 1, "b": 10, "c": 5,
	}}
	top := TopFingerprints(snap, 2)
	if len(top) != 2 || top[0] != "b" || top[1] != "c" {
		t.Fatalf("TopFingerprints = %v, want [b c]", top)
	}
}
