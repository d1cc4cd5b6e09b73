package concurrent

import (
	"sync"
	"testing"
)

func TestKeyedLocksSerializePerKey(t *testing.T) {
	l := NewKeyedLocks()
	n := 0
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := l.Acquire("edge")
			n++
			release()
		}()
	}
	wg.Wait()
	if n != 32 {
		t.Fatalf("n = %d, want 32", n)
	}
}

func TestKeyedLocksDropEntriesOnRelease(t *testing.T) {
	l := NewKeyedLocks()
	releaseA := l.Acquire("a")
	releaseB := l.Acquire("b")
	if l.Len() != 2 {
		t.Fatalf("held entries = %d, want 2", l.Len())
	}
	releaseA()
	if l.Len() != 1 {
		t.Fatalf("entries after one release = %d, want 1", l.Len())
	}
	releaseB()
	if l.Len() != 0 {
		t.Fatalf("entries after full release = %d, want 0", l.Len())
	}

	// Reacquiring a dropped key works.
	release := l.Acquire("a")
	release()
	if l.Len() != 0 {
		t.Fatalf("entries = %d, want 0", l.Len())
	}
}
