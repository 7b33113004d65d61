// Package testutil starts throwaway database containers for integration
// tests. Each container is started once per test binary and shared.
package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// requireDocker skips integration tests in -short mode or when no container
// runtime is reachable.
func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
