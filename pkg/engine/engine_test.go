package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsResult(t *testing.T) {
	e := New()
	v, err := Run(e, context.Background(), func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("run: %v %d", err, v)
	}
}

func TestGoResolvesLater(t *testing.T) {
	e := New()
	release := make(chan struct{})
	p := Go(e, context.Background(), func(context.Context) (string, error) {
		<-release
		return "done", nil
	})
	if p.Done() {
		t.Fatalf("pending resolved before the operation finished")
	}
	close(release)
	v, err := p.Wait(context.Background())
	if err != nil || v != "done" {
		t.Fatalf("wait: %v %q", err, v)
	}
	if !p.Done() {
		t.Fatalf("expected resolved handle")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	e := New()
	defer e.Close()
	var finished atomic.Bool
	release := make(chan struct{})
	p := Go(e, context.Background(), func(context.Context) (int, error) {
		<-release
		finished.Store(true)
		return 1, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	// The abandoned operation still runs to completion on the engine.
	close(release)
	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("operation did not finish")
	}
}

func TestCloseWaitsAndRefuses(t *testing.T) {
	e := New()
	var finished atomic.Bool
	Go(e, context.Background(), func(context.Context) (int, error) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return 0, nil
	})
	e.Close()
	if !finished.Load() {
		t.Fatalf("close returned before in-flight work finished")
	}
	if _, err := Run(e, context.Background(), func(context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("expected one shared default engine")
	}
}

func TestErrorPropagation(t *testing.T) {
	e := New()
	boom := errors.New("boom")
	if _, err := Run(e, context.Background(), func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected operation error, got %v", err)
	}
}
