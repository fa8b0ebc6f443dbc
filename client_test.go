package main

import (
	"errors"
	"sync"
	"testing"
)

func TestSendAfterCloseReturnsError(t *testing.T) {
	c := &client{send: make(chan []byte, sendBuffer)}
	c.close()
	if err := c.Send([]byte("frame")); !errors.Is(err, errClientClosed) {
		t.Fatalf("expected closed-client error, got %v", err)
	}
	//1.- A second close is a no-op rather than a double channel close.
	c.close()
}

func TestSendRejectsOnFullBuffer(t *testing.T) {
	c := &client{send: make(chan []byte, 1)}
	if err := c.Send([]byte("first")); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := c.Send([]byte("second")); err == nil {
		t.Fatal("expected error on full buffer")
	}
}

func TestConcurrentSendAndClose(t *testing.T) {
	//1.- Broadcasts from tick loops race disconnects constantly; neither side
	// may ever panic on the shared channel.
	for i := 0; i < 500; i++ {
		c := &client{send: make(chan []byte, 2)}
		var wg sync.WaitGroup
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Send([]byte("frame"))
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close()
		}()
		wg.Wait()
		if err := c.Send([]byte("late")); !errors.Is(err, errClientClosed) {
			t.Fatalf("iteration %d: expected closed-client error, got %v", i, err)
		}
	}
}
