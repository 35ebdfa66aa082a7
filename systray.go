package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
	"runtime"
	"time"

	"fyne.io/systray"

	"github.com/hydraremote/hydra-agent/buildinfo"
	"github.com/hydraremote/hydra-agent/device"
)

// scanEntryItem holds a menu item and the scan entry it represents
type scanEntryItem struct {
	menuItem *systray.MenuItem
	kind     device.Kind
	target   string
}

// getLocalIPs returns a list of local IP addresses (excluding loopback)
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// SystrayApp manages the system tray interface for the agent
type SystrayApp struct {
	agent *Agent

	// ctx ends with the tray; background loops watch it for exit
	ctx    context.Context
	cancel context.CancelFunc

	// Menu items
	mStatus     *systray.MenuItem
	mConnection *systray.MenuItem
	mLibrary    *systray.MenuItem
	mStart      *systray.MenuItem
	mStop       *systray.MenuItem
	mDeviceMenu *systray.MenuItem

	// URL menu items
	mServerURL     *systray.MenuItem
	mCopyServerURL *systray.MenuItem

	deviceMenuItems map[string]*scanEntryItem
}

// NewSystrayApp creates a new systray application
func NewSystrayApp(agent *Agent) *SystrayApp {
	ctx, cancel := context.WithCancel(context.Background())
	return &SystrayApp{
		agent:           agent,
		ctx:             ctx,
		cancel:          cancel,
		deviceMenuItems: make(map[string]*scanEntryItem),
	}
}

// Run starts the systray application
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

// onReady is called when the systray is ready
func (s *SystrayApp) onReady() {
	s.setupUI()
	s.autoStartAgent()
	s.startStatusUpdater()
}

// onExit is called when the systray is exiting
func (s *SystrayApp) onExit() {
	s.cancel()
	s.agent.Stop()
}

// setupUI initializes all menu items
func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTooltip(buildinfo.DisplayName)

	// Status section
	s.mStatus = systray.AddMenuItem("Starting...", "Agent Status")
	s.mStatus.Disable()

	s.mConnection = systray.AddMenuItem("Device: Disconnected", "Device connection status")
	s.mConnection.Disable()

	s.mLibrary = systray.AddMenuItem("Signals: 0", "Signals in library")
	s.mLibrary.Disable()

	systray.AddSeparator()

	// Server URL section
	s.mServerURL = systray.AddMenuItem("Server: Not running", "Control server WebSocket URL")
	s.mServerURL.Disable()
	s.mCopyServerURL = systray.AddMenuItem("Copy Server URL", "Copy WebSocket URL to clipboard")

	systray.AddSeparator()

	// Device management section
	s.mDeviceMenu = systray.AddMenuItem("Device", "Select signal device")
	mRescan := s.mDeviceMenu.AddSubMenuItem("Rescan", "Probe all transports again")
	mDisconnect := s.mDeviceMenu.AddSubMenuItem("Disconnect", "Release the current device")

	systray.AddSeparator()

	// Agent control section
	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable() // Disable start since we're auto-starting
	s.mStop.Disable()  // Will be enabled once agent starts

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	go s.handleMenuEvents(mRescan, mDisconnect, mQuit)
}

// autoStartAgent starts the agent automatically
func (s *SystrayApp) autoStartAgent() {
	go func() {
		if err := s.agent.Start(); err == nil {
			s.updateStatus("Running")
			s.updateURLs()
			s.mStop.Enable()
		} else {
			s.updateStatus("Failed to Start")
			s.mStart.Enable()
		}
		s.updateDeviceList()
	}()
}

// startStatusUpdater starts a goroutine to refresh connection and library info
func (s *SystrayApp) startStatusUpdater() {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		lastConnection := ""
		lastCount := -1

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
			}

			connection := s.connectionLabel()
			if connection != lastConnection {
				s.mConnection.SetTitle(connection)
				lastConnection = connection
			}

			count := len(s.agent.Library.Assets())
			if count != lastCount {
				s.mLibrary.SetTitle(fmt.Sprintf("Signals: %d", count))
				lastCount = count
			}
		}
	}()
}

// connectionLabel renders the manager state for the menu
func (s *SystrayApp) connectionLabel() string {
	info := s.agent.Manager.Info()
	if info == nil {
		return fmt.Sprintf("Device: %s", s.agent.Manager.State())
	}
	if info.Target != "" {
		return fmt.Sprintf("Device: %s (%s)", info.Kind, info.Target)
	}
	return fmt.Sprintf("Device: %s", info.Kind)
}

// handleMenuEvents processes all menu click events
func (s *SystrayApp) handleMenuEvents(mRescan, mDisconnect, mQuit *systray.MenuItem) {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.handleStartAgent()
		case <-s.mStop.ClickedCh:
			s.handleStopAgent()
		case <-mRescan.ClickedCh:
			s.updateDeviceList()
		case <-mDisconnect.ClickedCh:
			s.handleDisconnect()
		case <-s.mCopyServerURL.ClickedCh:
			if url := s.getServerURL(); url != "" {
				if err := copyToClipboard(url); err != nil {
					log.Printf("[systray] Failed to copy to clipboard: %v", err)
				} else {
					log.Printf("[systray] Copied server URL to clipboard")
				}
			}
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}

		// Handle device selection
		s.handleDeviceSelection()
	}
}

// handleStartAgent starts the agent
func (s *SystrayApp) handleStartAgent() {
	if err := s.agent.Start(); err == nil {
		s.updateStatus("Running")
		s.updateURLs()
		s.mStart.Disable()
		s.mStop.Enable()
	} else {
		s.updateStatus("Failed to Start")
	}
}

// handleStopAgent stops the agent
func (s *SystrayApp) handleStopAgent() {
	s.agent.Stop()
	s.updateStatus("Stopped")
	s.clearURLs()
	s.mStop.Disable()
	s.mStart.Enable()
}

// handleDisconnect releases the current device
func (s *SystrayApp) handleDisconnect() {
	if err := s.agent.Manager.Disconnect(); err != nil {
		log.Printf("[systray] Disconnect failed: %v", err)
	}
	for _, item := range s.deviceMenuItems {
		item.menuItem.Uncheck()
	}
}

// handleDeviceSelection processes device menu selections
func (s *SystrayApp) handleDeviceSelection() {
	for _, entry := range s.deviceMenuItems {
		select {
		case <-entry.menuItem.ClickedCh:
			s.switchDevice(entry)
		default:
			// No click event for this menu item
		}
	}
}

// switchDevice connects to the selected transport target
func (s *SystrayApp) switchDevice(entry *scanEntryItem) {
	// Uncheck all devices
	for _, item := range s.deviceMenuItems {
		item.menuItem.Uncheck()
	}

	if err := s.agent.Connect(entry.kind, entry.target); err != nil {
		log.Printf("[systray] Connect on %s failed: %v", entry.kind, err)
		return
	}
	entry.menuItem.Check()
}

// updateDeviceList probes all transports and refreshes the device menu
func (s *SystrayApp) updateDeviceList() {
	// Clear existing device menu items
	for _, item := range s.deviceMenuItems {
		item.menuItem.Hide()
	}
	s.deviceMenuItems = make(map[string]*scanEntryItem)

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.agent.Config.ScanTimeout())
	defer cancel()
	entries := s.agent.Manager.Scan(ctx)

	info := s.agent.Manager.Info()
	for _, entry := range entries {
		label := string(entry.Kind)
		if entry.Target != "" {
			label = fmt.Sprintf("%s (%s)", entry.Kind, entry.Target)
		}
		if !entry.Availability.Available {
			item := s.mDeviceMenu.AddSubMenuItem(label+": "+entry.Availability.Reason, "Transport unavailable")
			item.Disable()
			continue
		}

		isChecked := info != nil && info.Kind == entry.Kind
		item := s.mDeviceMenu.AddSubMenuItemCheckbox(label, "Connect to this device", isChecked)
		key := string(entry.Kind) + "|" + entry.Target
		s.deviceMenuItems[key] = &scanEntryItem{
			menuItem: item,
			kind:     entry.Kind,
			target:   entry.Target,
		}
	}
}

// updateStatus updates the status menu item and icon
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	// Update icon based on status
	switch status {
	case "Running":
		systray.SetIcon(iconDataConnected)
	case "Failed to Start":
		systray.SetIcon(iconDataError)
	case "Stopped":
		systray.SetIcon(iconDataStopped)
	default:
		// Starting or other states
		systray.SetIcon(iconData)
	}
}

// updateURLs updates the server URL display
func (s *SystrayApp) updateURLs() {
	if url := s.getServerURL(); url != "" {
		s.mServerURL.SetTitle("Server: " + url)
	}
}

// clearURLs resets the URL display to "Not running"
func (s *SystrayApp) clearURLs() {
	s.mServerURL.SetTitle("Server: Not running")
}

// getServerURL returns the control server WebSocket URL
func (s *SystrayApp) getServerURL() string {
	ips := getLocalIPs()
	ip := "localhost"
	if len(ips) > 0 {
		ip = ips[0]
	}
	return fmt.Sprintf("ws://%s:%d/ws", ip, s.agent.Config.Server.Port)
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	_, err = stdin.Write([]byte(text))
	if err != nil {
		return err
	}

	stdin.Close()
	return cmd.Wait()
}
