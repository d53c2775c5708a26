package inflight

import (
	"context"
	"testing"
	"time"
)

func TestCounterWait(t *testing.T) {
	var c Counter
	if !c.Wait(context.Background()) {
		t.Fatalf("idle counter should not block")
	}

	end1 := c.Begin()
	end2 := c.Begin()
	if n := c.Load(); n != 2 {
		t.Fatalf("count = %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if c.Wait(ctx) {
		t.Fatalf("wait returned while work is in flight")
	}

	done := make(chan bool, 1)
	go func() { done <- c.Wait(context.Background()) }()
	end1()
	end1()
	if n := c.Load(); n != 1 {
		t.Fatalf("count = %d after double end", n)
	}
	end2()
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("wait reported timeout")
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not return at zero")
	}
}
