package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewBareAddr(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), srv.Addr())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := client.Get(context.Background(), "k").Result()
	if err != nil || got != "v" {
		t.Fatalf("get returned (%q, %v)", got, err)
	}
}

func TestNewRedisURL(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), "redis://"+srv.Addr())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.Close()
}

func TestNewBadURL(t *testing.T) {
	if _, err := New(context.Background(), "redis://%zz"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestNewUnreachable(t *testing.T) {
	if _, err := New(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatal("expected ping failure")
	}
}
