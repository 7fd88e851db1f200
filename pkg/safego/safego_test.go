package safego

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGo_RunsFunctionInGoroutine(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false

	Go(zap.NewNop(), "test-goroutine", func() {
		defer wg.Done()
		ran = true
	})

	wg.Wait()
	if !ran {
		t.Fatal("expected the wrapped function to run")
	}
}

func TestGo_RecoversPanicAndLogsIt(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)

	var wg sync.WaitGroup
	wg.Add(1)

	Go(logger, "panicky-goroutine", func() {
		defer wg.Done()
		panic("boom")
	})

	wg.Wait()
	// Give the deferred recover's logger call a moment to land relative to
	// wg.Done (Done fires before the deferred recover runs its log call in
	// program order, since Done itself is deferred inside the same func).
	deadline := time.After(time.Second)
	for logs.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a panic log entry")
		case <-time.After(time.Millisecond):
		}
	}

	entry := logs.All()[0]
	if entry.Message != "goroutine panicked" {
		t.Fatalf("unexpected log message: %s", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["goroutine"] != "panicky-goroutine" {
		t.Fatalf("expected goroutine field set, got %+v", fields)
	}
	if fields["panic"] != "boom" {
		t.Fatalf("expected panic value logged, got %+v", fields)
	}
}

func TestGo_PanicDoesNotCrashProcess(t *testing.T) {
	// If Go's recover didn't work, this panic would take down the test binary.
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		Go(zap.NewNop(), "concurrent-panicker", func() {
			defer wg.Done()
			panic("still boom")
		})
	}
	wg.Wait()
}
