package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewTTLCacheWithClock(func() time.Time { return now })
	c.Set("42", true, time.Minute)
	c.Set("keep", true, 0)
	if !c.Has("42") {
		t.Fatalf("expected entry")
	}
	now = now.Add(2 * time.Minute)
	if c.Has("42") {
		t.Fatalf("expected entry to expire")
	}
	c.Set("43", true, time.Second)
	now = now.Add(time.Hour)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected one swept entry, got %d", n)
	}
	if c.Len() != 1 || !c.Has("keep") {
		t.Fatalf("entry without ttl must stay")
	}
}
