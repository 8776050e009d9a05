package worker

import (
	"context"
	"testing"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "llm"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_BucketsByHost(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if !limiter.Allow("https://eutils.ncbi.nlm.nih.gov/esearch") {
		t.Fatal("first request should pass")
	}
	// same host, different path shares the bucket
	if limiter.Allow("https://eutils.ncbi.nlm.nih.gov/efetch") {
		t.Error("expected allow to fail (exhausted tokens)")
	}
	if !limiter.Allow("llm") {
		t.Error("expected allow for a separate named bucket")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)

	limiter.SetRate("llm", PerMinute(6), 1)

	if !limiter.Allow("llm") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("llm") {
		t.Errorf("second request should fail")
	}
	if !limiter.Allow("https://eutils.ncbi.nlm.nih.gov") {
		t.Errorf("other bucket should pass")
	}
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 10; i++ {
		if !limiter.Allow("llm") {
			t.Fatalf("request %d limited with rate 0", i)
		}
	}
}

func TestBucket(t *testing.T) {
	tests := map[string]string{
		"http://example.com/foo": "example.com",
		"llm":                    "llm",
		"::invalid":              "::invalid",
	}
	for in, want := range tests {
		if got := bucket(in); got != want {
			t.Errorf("bucket(%q) = %q, want %q", in, got, want)
		}
	}
}
