package signal

import (
	"testing"
	"time"
)

func TestShutdownRequest(t *testing.T) {
	interrupt := InterruptListener()
	if InterruptRequested(interrupt) {
		t.Fatalf("TestShutdownRequest: interrupt reported before any request")
	}

	ShutdownRequestChannel <- struct{}{}
	select {
	case <-interrupt:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestShutdownRequest: shutdown request did not close the interrupt channel")
	}
	if !InterruptRequested(interrupt) {
		t.Fatalf("TestShutdownRequest: interrupt not reported after a shutdown request")
	}
}
