package service

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/runtime"
	"github.com/veilstate/veilstate/storage"
)

func init() {
	log.Init("error", "stdout", nil)
}

func TestAPIService(t *testing.T) {
	c := qt.New(t)

	// Setup storage and engine
	store := storage.New(memdb.New())
	defer store.Close()
	registry, err := storage.NewRegistryTree(memdb.New())
	c.Assert(err, qt.IsNil)
	engine := runtime.New(storage.NewInstanceDB(memdb.New()), registry, nil)

	// Create API service with a random available port
	apiService := NewAPI(engine, store, nil, "127.0.0.1", 0) // Port 0 lets the OS choose an available port

	// Start service in background
	ctx := context.Background()

	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)
	defer apiService.Stop()

	// Give the service time to start
	time.Sleep(2 * time.Second)

	// Test stopping and restarting
	apiService.Stop()
	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)

	// Test starting an already running service
	err = apiService.Start(ctx)
	c.Assert(err, qt.ErrorMatches, "service already running")
}
