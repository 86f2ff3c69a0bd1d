package sdk

import (
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

func mkRecord(msg string) model.LogRecord {
	return model.LogRecord{Timestamp: time.Now(), Level: model.LevelInfo, Message: msg}
}

func TestRingBufferEvictsOldestOnOverflow(t *testing.T) {
	b := newRingBuffer(3)
	b.push(mkRecord("a"))
	b.push(mkRecord("b"))
	b.push(mkRecord("c"))
	b.push(mkRecord("d")) // evicts "a"

	got := b.drain(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Message != "b" || got[2].Message != "d" {
		t.Errorf("got = %v, want oldest-evicted order starting at b", got)
	}
	if b.dropped != 1 {
		t.Errorf("dropped = %d, want 1", b.dropped)
	}
}

func TestRingBufferDrainPartial(t *testing.T) {
	b := newRingBuffer(10)
	for _, m := range []string{"a", "b", "c"} {
		b.push(mkRecord(m))
	}

	first := b.drain(2)
	if len(first) != 2 || first[0].Message != "a" || first[1].Message != "b" {
		t.Errorf("first drain = %v, want [a b]", first)
	}
	if b.len() != 1 {
		t.Errorf("remaining len = %d, want 1", b.len())
	}

	second := b.drain(10)
	if len(second) != 1 || second[0].Message != "c" {
		t.Errorf("second drain = %v, want [c]", second)
	}
}

func TestRingBufferRequeueFrontRestoresOrder(t *testing.T) {
	b := newRingBuffer(10)
	b.push(mkRecord("c"))
	b.push(mkRecord("d"))

	failed := []model.LogRecord{mkRecord("a"), mkRecord("b")}
	b.requeueFront(failed)

	got := b.drain(10)
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Message != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Message, w)
		}
	}
}
