package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestContextFollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, _, cancel := Context(parent)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with its parent")
	}
}

func TestContextCancel(t *testing.T) {
	ctx, again, cancel := Context(context.Background())
	cancel()
	<-ctx.Done()
	select {
	case <-again:
		t.Error("unexpected second signal")
	default:
	}
}
