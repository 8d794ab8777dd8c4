package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]State{
		{StateQueued, StateReserved},
		{StateQueued, StateCancelled},
		{StateReserved, StateProcessing},
		{StateReserved, StateQueued},
		{StateProcessing, StateCompleted},
		{StateProcessing, StateFailed},
		{StateProcessing, StateQueued},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s rejected", edge[0], edge[1])
		}
	}
	denied := [][2]State{
		{StateQueued, StateProcessing},
		{StateQueued, StateCompleted},
		{StateReserved, StateCancelled},
		{StateProcessing, StateCancelled},
		{StateCompleted, StateQueued},
		{StateFailed, StateQueued},
		{StateCancelled, StateQueued},
	}
	for _, edge := range denied {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("%s -> %s accepted", edge[0], edge[1])
		}
	}
}

func TestPrices(t *testing.T) {
	want := map[Kind]int{KindImage: 5, KindVideo: 15, KindVoice: 3}
	for kind, price := range want {
		if got := kind.Price(); got != price {
			t.Fatalf("%s price = %d, want %d", kind, got, price)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := &Job{ID: "a", Request: Request{NumFrames: IntPtr(8)}, ReadyAt: &now, Result: &Result{ArtifactURL: "x"}}
	cp := j.Clone()
	*cp.Request.NumFrames = 9
	cp.Result.ArtifactURL = "y"
	*cp.ReadyAt = now.Add(time.Hour)
	if *j.Request.NumFrames != 8 || j.Result.ArtifactURL != "x" || !j.ReadyAt.Equal(now) {
		t.Fatalf("clone shares memory with original: %+v", j)
	}
}

func TestParseRouteKind(t *testing.T) {
	if k, ok := ParseRouteKind("photo"); !ok || k != KindImage {
		t.Fatalf("photo -> %q, %v", k, ok)
	}
	if _, ok := ParseRouteKind("image"); ok {
		t.Fatal("image accepted as route kind")
	}
	if KindImage.RouteName() != "photo" || KindVoice.RouteName() != "voice" {
		t.Fatal("route names mismatch")
	}
}
