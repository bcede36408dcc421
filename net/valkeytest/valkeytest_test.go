//go:build integration

package valkeytest

import (
	"context"
	"testing"
	"time"
)

func TestValkeytest(t *testing.T) {
	address := New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ping(ctx, address); err != nil {
		t.Fatalf("Failed to ping valkey: %v", err)
	}
}
