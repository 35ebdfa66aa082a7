package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/hydraremote/hydra-agent/config"
	"github.com/hydraremote/hydra-agent/device"
	"github.com/hydraremote/hydra-agent/library"
	"github.com/hydraremote/hydra-agent/runtime"
	"github.com/hydraremote/hydra-agent/server"
)

// runtimeQueueSize bounds how many device and library tasks can be pending
// before submitters block.
const runtimeQueueSize = 64

// Agent owns the long-lived pieces of the application: the background
// runtime, the device manager, the signal library, and the control server.
type Agent struct {
	Logger  *log.Logger
	Config  *config.Config
	Runtime *runtime.Runtime
	Manager *device.Manager
	Library *library.Library
	Server  *server.Server

	running bool
}

// NewAgent wires up the manager and registers transports per the config.
// The library root is opened eagerly so a bad signal directory fails fast.
func NewAgent(cfg *config.Config) (*Agent, error) {
	logger := log.New(os.Stderr, "[agent] ", log.LstdFlags)

	lib, err := library.Open(cfg.Library.SignalRoot)
	if err != nil {
		return nil, err
	}
	report, err := lib.Load()
	if err != nil {
		return nil, err
	}
	if len(report.Recovered) > 0 {
		logger.Printf("Recovered %d orphaned signal file(s) into the index", len(report.Recovered))
	}
	if len(report.Invalid) > 0 {
		logger.Printf("Ignoring %d metadata entries with missing payload files", len(report.Invalid))
	}

	manager := device.NewManager(cfg.ScanTimeout())
	manager.Register(device.NewUSBTransport())
	manager.Register(device.NewBLETransport())
	// The mock is always registered so the system stays exercisable with no
	// hardware attached; enable_mock only makes it the startup transport.
	manager.Register(device.NewMockTransport())

	return &Agent{
		Logger:  logger,
		Config:  cfg,
		Manager: manager,
		Library: lib,
	}, nil
}

// Start brings up the runtime worker and the control server. Calling Start
// on a running agent is an error. A shut-down Runtime cannot be restarted,
// so each Start constructs a fresh one.
func (a *Agent) Start() error {
	if a.running {
		return errors.New("agent is already running")
	}

	a.Runtime = runtime.New(runtimeQueueSize)
	a.Runtime.Start()

	a.Server = server.New(server.Config{
		Manager:   a.Manager,
		Library:   a.Library,
		Runtime:   a.Runtime,
		Port:      a.Config.Server.Port,
		APISecret: a.Config.Server.APISecret,
	})
	go a.Server.Start()

	a.running = true
	a.Logger.Printf("Agent started on port %d (signals: %s)", a.Config.Server.Port, a.Library.Root())
	return nil
}

// Connect asks the manager to attach the named transport, going through the
// runtime so it serializes with any in-flight device work.
func (a *Agent) Connect(kind device.Kind, target string) error {
	if a.Runtime == nil {
		return errors.New("agent is not running")
	}
	handle := a.Runtime.Submit("connect", func(ctx context.Context) (any, error) {
		return nil, a.Manager.Connect(ctx, kind, target)
	})
	_, err := handle.Result()
	return err
}

// Stop tears down the server, drains the runtime, and releases the device.
func (a *Agent) Stop() {
	if !a.running {
		a.Logger.Println("Agent is not running")
		return
	}

	a.Logger.Println("Stopping agent...")

	if a.Server != nil {
		a.Server.Stop()
		a.Server = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Runtime.Shutdown(shutdownCtx); err != nil {
		a.Logger.Printf("Runtime shutdown: %v", err)
	}

	a.Manager.Close()

	a.running = false
	a.Logger.Println("Agent stopped successfully")
}
