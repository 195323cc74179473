package auth

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestSecConfigLimits(t *testing.T) {
	rps, burst := SecConfig{}.limits()
	if rps != rate.Limit(defaultRPS) || burst != defaultBurst {
		t.Fatalf("zero config limits = %v/%d, want defaults", rps, burst)
	}

	rps, burst = SecConfig{RPS: 2.5, Burst: 3}.limits()
	if rps != rate.Limit(2.5) || burst != 3 {
		t.Fatalf("explicit config limits = %v/%d", rps, burst)
	}
}

func TestLimiterPoolPerCaller(t *testing.T) {
	p := newLimiterPool(SecConfig{RPS: 1, Burst: 2})

	// Two tokens, then dry until refill.
	if !p.Allow("U1") || !p.Allow("U1") {
		t.Fatal("burst tokens should be available")
	}
	if p.Allow("U1") {
		t.Fatal("expected U1 to be rate limited")
	}
	// Exhausting one caller's bucket never affects another's.
	if !p.Allow("U2") {
		t.Fatal("U2 should have a fresh bucket")
	}
}
