package session

import (
	"sync"
	"testing"
)

func TestBridgeEmitsCallbacks(t *testing.T) {
	var progresses, tokens []string
	b := newCallbackBridge(
		func(p float32, stage string) { progresses = append(progresses, stage) },
		func(tok string) { tokens = append(tokens, tok) },
		testLogger(),
	)
	b.emitProgress(0.5, "halfway")
	b.emitToken("hi")
	if len(progresses) != 1 || len(tokens) != 1 {
		t.Fatalf("callbacks not delivered: %v %v", progresses, tokens)
	}
}

func TestBridgeNilCallbacks(t *testing.T) {
	b := newCallbackBridge(nil, nil, testLogger())
	b.emitProgress(0.1, "stage")
	b.emitToken("tok")
	b.Release()
}

func TestBridgePanicSwallowed(t *testing.T) {
	calls := 0
	b := newCallbackBridge(
		func(float32, string) { panic("progress bug") },
		func(string) { calls++; panic("token bug") },
		testLogger(),
	)
	b.emitProgress(0.2, "stage")
	b.emitToken("a")
	b.emitToken("b")
	if calls != 2 {
		t.Fatalf("panicking callback stopped being invoked after %d calls", calls)
	}
}

func TestBridgeReleaseStopsEmission(t *testing.T) {
	fired := false
	b := newCallbackBridge(nil, func(string) { fired = true }, testLogger())
	b.Release()
	b.emitToken("late")
	if fired {
		t.Fatal("token delivered after release")
	}
}

func TestBridgeReleaseIdempotentUnderRace(t *testing.T) {
	b := newCallbackBridge(func(float32, string) {}, func(string) {}, testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Release()
		}()
	}
	wg.Wait()
	if !b.released.Load() || b.progress != nil || b.token != nil {
		t.Fatal("bridge not fully released")
	}
}
