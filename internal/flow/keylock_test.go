package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPairLockerSerializesPair(t *testing.T) {
	l := NewPairLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "bot", "u1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected exclusive access, saw %d holders", maxInside)
	}
	if l.Len() != 0 {
		t.Errorf("expected entries to be released, %d left", l.Len())
	}
}

func TestPairLockerIndependentPairs(t *testing.T) {
	l := NewPairLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "bot", "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "bot", "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different user blocked")
	}
}

func TestPairLockerContextCancel(t *testing.T) {
	l := NewPairLocker()
	unlock, _ := l.Lock(context.Background(), "bot", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "bot", "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if l.Len() != 0 {
		t.Errorf("expected no entries, got %d", l.Len())
	}
}
