package backoff

import (
	"testing"
	"time"
)

func TestRequeueSchedule(t *testing.T) {
	s := Requeue()
	want := []time.Duration{2 * time.Second, 8 * time.Second, 32 * time.Second, 32 * time.Second}
	for attempt, d := range want {
		if got := s.Delay(attempt); got != d {
			t.Fatalf("Delay(%d) = %s, want %s", attempt, got, d)
		}
	}
}

func TestReadyAtIsMeasuredFromCreation(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(time.Second)
	if got := ReadyAt(Requeue(), created, now, 1); !got.Equal(created.Add(8 * time.Second)) {
		t.Fatalf("ReadyAt = %s, want created+8s", got)
	}
	late := created.Add(5 * time.Minute)
	if got := ReadyAt(Requeue(), created, late, 1); !got.Equal(late) {
		t.Fatalf("ReadyAt = %s, want now when schedule already elapsed", got)
	}
}

func TestJitterStaysWithinBase(t *testing.T) {
	j := Jitter{Strategy: Geometric{Base: 100 * time.Millisecond, Factor: 2}}
	for i := 0; i < 100; i++ {
		d := j.Delay(2)
		if d <= 0 || d > 400*time.Millisecond {
			t.Fatalf("Delay(2) = %s out of range", d)
		}
	}
}
