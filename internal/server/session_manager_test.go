package server

import (
	"context"
	"testing"
)

func TestSessionManager_AddRemove(t *testing.T) {
	sm := NewSessionManager()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sm.Add("stream-1", cancel)

	if got := sm.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	sm.Remove("stream-1")

	if got := sm.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	if ctx.Err() != nil {
		t.Error("Remove must not cancel the stream")
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	sm := NewSessionManager()

	var ctxs []context.Context
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		sm.Add("stream-"+string(rune('a'+i)), cancel)
	}

	sm.CloseAll()

	if got := sm.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0 after CloseAll", got)
	}
	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("stream %d not canceled", i)
		}
	}
}
