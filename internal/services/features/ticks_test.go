package features

import (
	"testing"

	"TickPilot/internal/domain/models"
)

func TestTickBufferOrderAndDedupe(t *testing.T) {
	b := NewTickBuffer(10)
	for _, e := range []int64{5, 3, 9, 3, 7} {
		b.Add(models.Tick{Epoch: e, Quote: float64(e)})
	}
	got := b.Snapshot()
	want := []int64{3, 5, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("expected %d ticks, got %d", len(want), len(got))
	}
	for i, e := range want {
		if got[i].Epoch != e {
			t.Fatalf("index %d: expected epoch %d, got %d", i, e, got[i].Epoch)
		}
	}
	if b.Add(models.Tick{Epoch: 9, Quote: 1}) {
		t.Fatalf("duplicate epoch accepted")
	}
}

func TestTickBufferBounded(t *testing.T) {
	b := NewTickBuffer(3)
	for e := int64(1); e <= 5; e++ {
		b.Add(models.Tick{Epoch: e})
	}
	got := b.Snapshot()
	if len(got) != 3 || got[0].Epoch != 3 || got[2].Epoch != 5 {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestTickBufferEvict(t *testing.T) {
	b := NewTickBuffer(0)
	for e := int64(100); e < 110; e++ {
		b.Add(models.Tick{Epoch: e})
	}
	if n := b.Evict(105); n != 5 {
		t.Fatalf("expected 5 evicted, got %d", n)
	}
	if b.Len() != 5 || b.Snapshot()[0].Epoch != 105 {
		t.Fatalf("unexpected buffer after evict")
	}
	if n := b.Evict(10); n != 0 {
		t.Fatalf("expected nothing evicted, got %d", n)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer")
	}
}
