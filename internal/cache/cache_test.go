package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestGetMissThenHit(t *testing.T) {
	c := New(time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("k", 42)

	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := New(time.Minute)
	c.Set("k", "v")

	// Backdate the entry instead of sleeping.
	c.mu.Lock()
	it := c.items["k"]
	it.exp = time.Now().Add(-time.Second)
	c.items["k"] = it
	c.mu.Unlock()

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss for expired entry")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", c.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a deleted")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty after Clear, len=%d", c.Len())
	}
}

func TestSetEvictsWhenFull(t *testing.T) {
	c := New(time.Minute)
	c.maxEntries = 4

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	c.Set("overflow", true)

	if c.Len() > 4 {
		t.Fatalf("cache grew past maxEntries, len=%d", c.Len())
	}
	if _, ok := c.Get("overflow"); !ok {
		t.Fatal("expected newest entry retained")
	}
}
