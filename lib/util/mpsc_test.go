package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %d", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestConcurrentProducers verifies that all items of many producers arrive exactly once
// and that the items of a single producer keep their order
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[[2]int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	done := make(chan struct{})
	lastSeen := make([]int, numProducers)
	for i := range lastSeen {
		lastSeen[i] = -1
	}

	go func() {
		defer close(done)
		for received := 0; received < totalItems; received++ {
			select {
			case val := <-q.Recv():
				producer, seq := val[0], val[1]
				if seq != lastSeen[producer]+1 {
					t.Errorf("Producer %d: expected item %d, got %d", producer, lastSeen[producer]+1, seq)
				}
				lastSeen[producer] = seq
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", received, totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push([2]int{producerID, i}) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for consumer to finish")
	}
}

// TestCloseDrainsQueue checks that items pushed before Close are delivered
// and that the channel is closed afterwards
func TestCloseDrainsQueue(t *testing.T) {
	q := NewLockFreeMPSC[string]()

	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Error("Push after Close should fail")
	}
	if !q.IsClosed() {
		t.Error("Queue should report closed")
	}

	var got []string
	timeout := time.After(time.Second)
	for {
		select {
		case v, ok := <-q.Recv():
			if !ok {
				if len(got) != 2 || got[0] != "a" || got[1] != "b" {
					t.Errorf("Expected [a b], got %v", got)
				}
				return
			}
			got = append(got, v)
		case <-timeout:
			t.Fatal("Timeout waiting for channel close")
		}
	}
}
