package eventlock

import (
	"sync"
	"testing"
)

func TestLock_MutualExclusionPerEvent(t *testing.T) {
	reg := NewRegistry()

	const goroutines = 50
	const increments = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				unlock := reg.Lock(42)
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	if counter != goroutines*increments {
		t.Errorf("expected %d, got %d (lost updates under contention)",
			goroutines*increments, counter)
	}
}

func TestLock_DifferentEventsDoNotBlock(t *testing.T) {
	reg := NewRegistry()

	unlock1 := reg.Lock(1)
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := reg.Lock(2)
		unlock2()
		close(done)
	}()

	// Deadlocks here (test timeout) if event 2 waits on event 1's lock.
	<-done
}

func TestLock_SameMutexAcrossCalls(t *testing.T) {
	reg := NewRegistry()

	unlock := reg.Lock(7)
	locked := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(locked)
		u := reg.Lock(7)
		u()
		close(acquired)
	}()

	<-locked
	select {
	case <-acquired:
		t.Fatal("second Lock(7) acquired while first still held")
	default:
	}

	unlock()
	<-acquired
}
