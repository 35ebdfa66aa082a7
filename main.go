// Package main provides a desktop agent for Hydra sub-GHz signal devices.
// It manages the device link over USB serial or BLE, keeps a local signal
// library, and exposes both to UI clients over a WebSocket bridge.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/systray"

	"github.com/hydraremote/hydra-agent/buildinfo"
	"github.com/hydraremote/hydra-agent/config"
	"github.com/hydraremote/hydra-agent/device"
)

var (
	defaultPort = 18080

	// CLI flags
	configFlag    string
	transportFlag string
	targetFlag    string
	portFlag      int
	cliFlag       bool
	mockFlag      bool
	apiSecretFlag string
	versionFlag   bool
)

func main() {
	flag.StringVar(&configFlag, "config", "", "Path to config file (optional)")
	flag.StringVar(&transportFlag, "transport", "", "Transport to connect on startup: usb, ble or mock (optional)")
	flag.StringVar(&targetFlag, "device", "", "Device target, e.g. a serial port path or BLE address (optional)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on for the web interface")
	flag.BoolVar(&cliFlag, "cli", false, "Run in CLI mode (default: system tray mode)")
	flag.BoolVar(&mockFlag, "mock", false, "Connect the mock transport on startup")
	flag.StringVar(&apiSecretFlag, "api-secret", "", "API secret for session handshake (optional)")
	flag.BoolVar(&versionFlag, "version", false, "Print version information and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	cfg, err := config.LoadOrDefault(configFlag)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the config file.
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if apiSecretFlag != "" {
		cfg.Server.APISecret = apiSecretFlag
	}
	if mockFlag {
		cfg.Device.EnableMock = true
	}
	if cfg.Device.EnableMock {
		cfg.Device.DefaultTransport = "mock"
	}
	if transportFlag != "" {
		cfg.Device.DefaultTransport = transportFlag
	}

	agent, err := NewAgent(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize agent: %v", err)
	}

	if cliFlag {
		runCLI(agent)
	} else {
		runSystray(agent)
	}
}

// runCLI starts the agent headless and blocks until a shutdown signal.
func runCLI(agent *Agent) {
	if err := agent.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
	defer agent.Stop()

	connectStartupTransport(agent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, stopping agent...")
}

// runSystray runs the tray UI, forwarding termination signals to it.
func runSystray(agent *Agent) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		systray.Quit()
	}()

	app := NewSystrayApp(agent)
	app.Run()
}

// connectStartupTransport attempts the configured initial connection.
// Failure is logged but not fatal; clients can connect later.
func connectStartupTransport(agent *Agent) {
	kind := device.Kind(agent.Config.Device.DefaultTransport)
	if kind == "" {
		return
	}
	if err := agent.Connect(kind, targetFlag); err != nil {
		log.Printf("Startup connect on %s failed: %v", kind, err)
	}
}
