package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/leadfinder/internal/metrics"
)

func TestLimiterWaitThrottlesSameHost(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()
	url := "https://maps.googleapis.com/maps/api/place/textsearch/json"

	if err := l.Wait(ctx, url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, url); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host b blocked unexpectedly")
	}
}

func TestLimiterDisabledWhenRPSZero(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 20 {
		if err := l.Wait(ctx, "https://a.example/"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected unlimited limiter to never block")
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://a.example/"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://a.example/")
	if err == nil {
		t.Fatal("expected error when context expires before a token is available")
	}
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	if got := hostOf("https://Example.com:8443/x"); got != "Example.com" {
		t.Fatalf("hostOf() = %q", got)
	}
	if got := hostOf("::bad"); got != "unknown" {
		t.Fatalf("hostOf() = %q, want unknown", got)
	}
}
