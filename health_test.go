package hive

import (
	"testing"
	"time"
)

func TestHealth_FreshRecordIsHealthy(t *testing.T) {
	h := NewHealth(0) // falls back to the default window
	if !h.Healthy() {
		t.Error("fresh record reported unhealthy")
	}
	if h.LastBeat() == 0 {
		t.Error("LastBeat not stamped at construction")
	}
}

func TestHealth_GoesStaleWithoutBeats(t *testing.T) {
	h := NewHealth(20)
	time.Sleep(40 * time.Millisecond)
	if h.Healthy() {
		t.Error("record healthy past its window without a beat")
	}
	h.Beat()
	if !h.Healthy() {
		t.Error("record unhealthy immediately after Beat")
	}
}
