package correlator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "01012345678|inbound")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxActive)
	}
	if m.Len() != 0 {
		t.Fatalf("expected all keys released, got %d", m.Len())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	unlockA, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("other keys must not block: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	m := NewKeyedMutex()
	unlock, _ := m.Lock(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "a"); err == nil {
		t.Fatalf("expected timeout while key is held")
	}

	unlock()
	unlock() // second call is harmless
	if m.Len() != 0 {
		t.Fatalf("waiter that gave up must not leak its entry")
	}
}
