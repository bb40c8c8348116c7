// Command wasmrt-host boots a Manager, spawns one component from a WASM
// file, sends it a message, and shuts the host down cleanly.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmxmxh/wasmrt/internal/telemetry"
	"github.com/nmxmxh/wasmrt/pkg/capability"
	"github.com/nmxmxh/wasmrt/pkg/engine"
	"github.com/nmxmxh/wasmrt/pkg/host"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
)

func main() {
	wasmPath := flag.String("component", "", "path to a WASM component to spawn")
	namespace := flag.String("namespace", "local", "namespace to spawn the component under")
	name := flag.String("name", "demo", "component name")
	maxMemory := flag.Uint64("max-memory-bytes", 64<<20, "resource limit: max linear memory")
	fuelBudget := flag.Uint64("fuel-budget", 10_000_000, "resource limit: wasmer fuel budget")
	flag.Parse()

	log := telemetry.Default("wasmrt-host")

	if *wasmPath == "" {
		log.Fatal("missing required -component flag")
	}

	wasmerEngine := engine.NewWasmerEngine()

	manager, err := host.NewManager(host.ManagerConfig{
		Engine: wasmerEngine,
		Loader: host.FileComponentLoader{},
		Log:    log,
	})
	if err != nil {
		log.Fatal("manager initialization failed", telemetry.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := capability.NewComponentID(*namespace, *name, "1")
	limits := engine.ResourceLimits{MaxMemoryBytes: *maxMemory, FuelBudget: *fuelBudget}

	topics, err := capability.NewTopicPattern("**")
	if err != nil {
		log.Fatal("compile topic pattern", telemetry.Err(err))
	}
	caps := capability.NewCapabilitySetBuilder().
		Grant(capability.Messaging(topics)).
		Freeze()

	if err := manager.SpawnComponent(ctx, id, *wasmPath, limits, caps); err != nil {
		log.Fatal("spawn failed", telemetry.String("component_id", id.String()), telemetry.Err(err))
	}
	log.Info("component spawned", telemetry.String("component_id", id.String()))

	status, err := manager.GetComponentStatus(id)
	if err != nil {
		log.Fatal("status lookup failed", telemetry.Err(err))
	}
	log.Info("component status", telemetry.String("state", status.State.String()))

	startup := capability.NewComponentID(*namespace, "host", "0")
	env := messaging.NewEnvelope(startup, id, messaging.CodecRaw, []byte("hello"))
	if err := manager.Dispatch(ctx, id, env); err != nil {
		log.Warn("initial dispatch failed", telemetry.Err(err))
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", telemetry.Err(err))
		os.Exit(1)
	}
}
