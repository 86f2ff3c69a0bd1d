package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

type slowClassifier struct{ delay time.Duration }

func (s slowClassifier) Classify(ctx context.Context, records []model.LogRecord) ([]string, error) {
	select {
	case <-time.After(s.delay):
		out := make([]string, len(records))
		for i := range out {
			out[i] = "ok"
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(ctx context.Context, records []model.LogRecord) ([]string, error) {
	return nil, errors.New("boom")
}

func TestBoundedCallerSuccess(t *testing.T) {
	c := NewBoundedCaller(slowClassifier{delay: time.Millisecond}, 2)
	records := []model.LogRecord{{Message: "a"}, {Message: "b"}}
	out := c.Classify(context.Background(), records)
	if len(out) != 2 || out[0] != "ok" || out[1] != "ok" {
		t.Fatalf("got %v, want [ok ok]", out)
	}
}

func TestBoundedCallerDegradesOnFailure(t *testing.T) {
	c := NewBoundedCaller(failingClassifier{}, 2)
	records := []model.LogRecord{{Message: "a"}}
	out := c.Classify(context.Background(), records)
	if len(out) != 1 || out[0] != "" {
		t.Fatalf("got %v, want [\"\"] (unclassified pass-through)", out)
	}
}

func TestBoundedCallerDegradesOnTimeout(t *testing.T) {
	c := NewBoundedCaller(slowClassifier{delay: Timeout + 500*time.Millisecond}, 2)
	records := []model.LogRecord{{Message: "a"}}
	start := time.Now()
	out := c.Classify(context.Background(), records)
	if time.Since(start) > Timeout+time.Second {
		t.Fatalf("Classify took too long: %v", time.Since(start))
	}
	if len(out) != 1 || out[0] != "" {
		t.Fatalf("got %v, want unclassified pass-through", out)
	}
}

func TestBoundedCallerEmptyBatch(t *testing.T) {
	c := NewBoundedCaller(PassthroughClassifier{}, 2)
	if out := c.Classify(context.Background(), nil); out != nil {
		t.Fatalf("got %v, want nil for empty batch", out)
	}
}
