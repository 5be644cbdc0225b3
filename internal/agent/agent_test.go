package agent

import (
	"context"
	"testing"
	"time"
)

func TestAgentEchoRoundTrip(t *testing.T) {
	a := New(Config{Command: []string{"cat"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Terminate()

	if err := a.Send("hello\nMEDIA:/tmp/pic.jpg"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	a.Terminate() // closes stdin, cat sees EOF and exits

	reply := CollectReply(a.Fragments())
	if reply.Body != "hello" {
		t.Errorf("Body = %q, want %q", reply.Body, "hello")
	}
	if len(reply.MediaPaths) != 1 || reply.MediaPaths[0] != "/tmp/pic.jpg" {
		t.Errorf("MediaPaths = %v", reply.MediaPaths)
	}
}

func TestAgentTerminateIsIdempotent(t *testing.T) {
	a := New(Config{Command: []string{"cat"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a.Terminate()
	a.Terminate() // must not block or panic

	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent never settled")
	}
}

func TestAgentAliveTransitionsFalseAfterExit(t *testing.T) {
	a := New(Config{Command: []string{"true"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for range a.Fragments() {
	}
	if a.Alive() {
		t.Error("expected Alive() == false after process exit")
	}
}
