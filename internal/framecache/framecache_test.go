package framecache

import (
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(2 * time.Second)
	defer c.Stop()

	c.Put(1, Entry{Data: []byte{1, 2, 3}, Width: 4, Height: 4})
	got, ok := c.Get(1)
	if !ok {
		t.Fatal("expected entry present")
	}
	if len(got.Data) != 3 {
		t.Fatalf("data length = %d, want 3", len(got.Data))
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	c := New(time.Second)
	defer c.Stop()

	if _, ok := c.Get(999); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Stop()

	c.Put(5, Entry{Data: []byte{9}})
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get(5); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Stop()

	c.Put(1, Entry{Data: []byte{1}})
	c.Put(2, Entry{Data: []byte{2}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Fatalf("expected sweep to evict all entries, Len() = %d", c.Len())
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New(time.Second)
	defer c.Stop()

	c.Put(3, Entry{Data: []byte{3}})
	c.Delete(3)
	if _, ok := c.Get(3); ok {
		t.Fatal("expected entry removed by Delete")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(time.Second)
	c.Stop()
	c.Stop() // must not panic on double-close
}

func TestDefaultTTLUsedWhenZero(t *testing.T) {
	c := New(0)
	defer c.Stop()
	if c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want default %v", c.ttl, DefaultTTL)
	}
}
