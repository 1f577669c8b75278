package pool

import (
	"context"
	"testing"
	"time"
)

func TestAcquireReleaseBoundsConcurrency(t *testing.T) {
	p := New(1, 50*time.Millisecond, 0, 0)

	g1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if p.InUse() != 1 {
		t.Fatalf("expected 1 in use, got %d", p.InUse())
	}

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatalf("expected second acquire to time out while pool is full")
	}

	g1.Release()
	g2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	g2.Release()
}

func TestGuardIDsAreUnique(t *testing.T) {
	p := New(2, time.Second, 0, 0)
	g1, _ := p.Acquire(context.Background())
	g2, _ := p.Acquire(context.Background())
	defer g1.Release()
	defer g2.Release()
	if g1.ID() == g2.ID() {
		t.Fatalf("expected distinct guard ids")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New(1, time.Second, 0, 0)
	g, _ := p.Acquire(context.Background())
	g.Release()
	g.Release()
	if p.InUse() != 0 {
		t.Fatalf("expected 0 in use after double release, got %d", p.InUse())
	}
}
