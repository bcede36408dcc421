// Package valkeytest starts valkey servers in containers for the
// integration tests of the valkey backed stores.
package valkeytest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/valkey-io/valkey-go"
)

const image = "valkey/valkey:8-alpine"

// New starts a valkey server and returns its address. The server is
// stopped when the test finishes.
func New(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start valkey server: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to stop valkey: %v", err)
		}
	})

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	address, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get valkey address: %v", err)
	}

	if err := ping(ctx, address); err != nil {
		t.Fatalf("Failed to ping valkey server: %v", err)
	}

	t.Logf("Started valkey server at %s in %v", address, time.Since(start))
	return address
}

func ping(ctx context.Context, address string) error {
	vdb, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{address},
		DisableCache: true,
	})
	if err != nil {
		return err
	}

	defer vdb.Close()

	for res := vdb.Do(ctx, vdb.B().Ping().Build()); ctx.Err() == nil && res.Error() != nil; res = vdb.Do(ctx, vdb.B().Ping().Build()) {
		time.Sleep(100 * time.Millisecond)
	}

	return ctx.Err()
}
