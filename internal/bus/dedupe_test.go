package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedupeCache_FirstOccurrenceIsNew(t *testing.T) {
	d := NewDedupeCache(time.Minute, 10)
	if d.Seen("a") {
		t.Fatal("first occurrence reported as seen")
	}
	if !d.Seen("a") {
		t.Fatal("second occurrence not reported as seen")
	}
	if d.Seen("b") {
		t.Fatal("distinct key reported as seen")
	}
}

func TestDedupeCache_EmptyKeyNeverDuplicate(t *testing.T) {
	d := NewDedupeCache(time.Minute, 10)
	if d.Seen("") || d.Seen("") {
		t.Fatal("empty key must never be a duplicate")
	}
	if d.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", d.Len())
	}
}

func TestDedupeCache_Reset(t *testing.T) {
	d := NewDedupeCache(time.Minute, 10)
	d.Seen("a")
	d.Reset()
	if d.Seen("a") {
		t.Fatal("key still seen after Reset")
	}
}

func TestDedupeCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedupeCache(time.Minute, 10)
	d.now = func() time.Time { return now }

	d.Seen("a")
	now = now.Add(59 * time.Second)
	if !d.Seen("a") {
		t.Fatal("key forgotten before TTL")
	}

	now = now.Add(61 * time.Second)
	if d.Seen("a") {
		t.Fatal("key still seen after TTL")
	}
}

func TestDedupeCache_EvictsOldestBeyondMax(t *testing.T) {
	d := NewDedupeCache(time.Hour, 3)
	for _, k := range []string{"a", "b", "c", "d"} {
		d.Seen(k)
	}
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	if d.Seen("a") {
		t.Fatal("oldest key should have been evicted")
	}
	if !d.Seen("d") {
		t.Fatal("newest key should still be tracked")
	}
}

func TestDedupeCache_ConcurrentSameKeyOnlyOneNew(t *testing.T) {
	d := NewDedupeCache(time.Minute, 100)
	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Seen("same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := fresh.Load(); got != 1 {
		t.Fatalf("%d goroutines judged the key new, want 1", got)
	}
}

func TestInboundEvent_Fingerprint(t *testing.T) {
	base := InboundEvent{Channel: "signal", AccountID: "+1555", SenderID: "+1666", Body: "hi", Timestamp: 42}

	same := base
	same.Mentions = []MentionRecord{{Number: "+1555"}}
	if base.Fingerprint() != same.Fingerprint() {
		t.Error("mentions must not affect the fingerprint")
	}

	variants := map[string]InboundEvent{
		"sender":    {Channel: "signal", AccountID: "+1555", SenderID: "+1777", Body: "hi", Timestamp: 42},
		"timestamp": {Channel: "signal", AccountID: "+1555", SenderID: "+1666", Body: "hi", Timestamp: 43},
		"body":      {Channel: "signal", AccountID: "+1555", SenderID: "+1666", Body: "hello", Timestamp: 42},
		"group":     {Channel: "signal", AccountID: "+1555", SenderID: "+1666", GroupID: "g", Body: "hi", Timestamp: 42},
	}
	for name, ev := range variants {
		if ev.Fingerprint() == base.Fingerprint() {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

func ExampleDedupeCache() {
	d := NewDedupeCache(0, 0)
	fmt.Println(d.Seen("evt-1"), d.Seen("evt-1"))
	// Output: false true
}
