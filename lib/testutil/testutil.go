package testutil

import (
	"fmt"
	"testing"

	"legionlaunch/lib/kvstore"
	"legionlaunch/lib/telemetry"
)

type ServiceParams struct {
	Name string
	// if unspecified, an in-memory store is used
	StorePath string
}

type ServiceResult struct {
	Store kvstore.Store
}

// SetupService wires up telemetry and an in-memory kv store for a
// service-level test.
func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))

	path := params.StorePath
	if path == "" {
		path = ":memory:"
	}
	store, err := kvstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	return ServiceResult{Store: store}, func() {
		store.Close()
		cleanup()
	}
}
