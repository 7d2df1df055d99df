package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"network-service/internal/fsm"
	"network-service/internal/status"
)

var errNoCredentials = errors.New("no stored credentials")

// Global events are handled the same way in every state.
func (n *NetworkManager) handleGlobal(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvUpdateStatus:
		n.refreshStatus()
		return fsm.Handled
	case fsm.EvReboot:
		n.logger.Warnf("Reboot requested: %s", ev.Reboot)
		if n.deps.Rebooter == nil {
			n.logger.Errorf("No rebooter configured")
			return fsm.Handled
		}
		if err := n.deps.Rebooter.Reboot(ev.Reboot); err != nil {
			n.logger.Errorf("Reboot (%s) failed: %v", ev.Reboot, err)
		}
		return fsm.Handled
	case fsm.EvRebootURL:
		n.logger.Warnf("Firmware update requested from %s", ev.URL)
		if n.deps.Rebooter == nil {
			n.logger.Errorf("No rebooter configured")
			return fsm.Handled
		}
		if err := n.deps.Rebooter.RebootToURL(ev.URL); err != nil {
			n.logger.Errorf("Reboot to %s failed: %v", ev.URL, err)
		}
		return fsm.Handled
	}
	return fsm.Unhandled
}

// Instantiated

func (n *NetworkManager) enterInstantiated() {
	n.cfg.ApplySettings(n.deps.Settings, n.logger)
	n.retry.Configure(n.cfg.MaxRetry, n.cfg.PollMin, n.cfg.PollMax)
	n.logger.Debugf("Polling %v..%v, ethernet timeout %v, DHCP timeout %v",
		n.cfg.PollMin, n.cfg.PollMax, n.cfg.EthTimeout, n.cfg.DHCPTimeout)
}

func (n *NetworkManager) handleInstantiated(ev fsm.Event) fsm.Result {
	if ev.ID == fsm.EvStart {
		return n.traverse(fsm.StateInitializing)
	}
	return fsm.Unhandled
}

// Initializing

func (n *NetworkManager) enterInitializing() {
	n.post(fsm.NewEvent(fsm.EvStart))
}

func (n *NetworkManager) handleInitializing(ev fsm.Event) fsm.Result {
	if ev.ID != fsm.EvStart {
		return fsm.Unhandled
	}
	switch {
	case boolSetting(n.deps.Settings, SettingPrioritizeWifi, false):
		n.logger.Infof("WiFi connection is prioritized. Starting WiFi")
		return n.traverse(fsm.StateWifiInitializing)
	case n.cfg.Recovery:
		n.logger.Infof("Running recovery. Skipping ethernet, starting WiFi")
		return n.traverse(fsm.StateWifiInitializing)
	}
	return n.traverse(fsm.StateEthStarting)
}

// Ethernet root

func (n *NetworkManager) enterEthActive() {
	n.timer.Arm(n.cfg.EthTimeout, fsm.TimerEthLinkNotFound, fsm.StateEthActive, fsm.ScopeState)
}

func (n *NetworkManager) handleEthActive(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvConnectNew:
		n.pending = ev.Credentials
		return n.switchTo(fsm.StateEthConnectingNew)
	case fsm.EvLinkUp:
		return n.switchTo(fsm.StateEthLinkUp)
	case fsm.EvLinkDown:
		return n.switchTo(fsm.StateEthLinkDown)
	case fsm.EvEthGotIP, fsm.EvEthernetFallback:
		return n.switchTo(fsm.StateEthConnected)
	case fsm.EvTimer:
		n.logger.Warnf("Timeout %s. Rebooting to WiFi", ev.Tag)
		n.prioritizeWifi(true)
		n.restart()
		return fsm.Handled
	case fsm.EvScan:
		n.logger.Warnf("WiFi scan cannot be executed while on ethernet")
		return fsm.Handled
	case fsm.EvScanDone:
		return fsm.Handled
	case fsm.EvDelete:
		n.logger.Infof("WiFi credentials deleted by user")
		n.clearCredentials()
		n.updateStatus(status.ReasonUserDisconnect)
		return fsm.Handled
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterEthStarting() {
	n.logger.Debugf("Looking for ethernet interface")
	var err error
	if n.deps.Ethernet == nil {
		err = ErrEthernetDisabled
	} else {
		err = n.deps.Ethernet.Start()
	}
	if err != nil {
		if errors.Is(err, ErrEthernetDisabled) {
			n.logger.Infof("Ethernet not available")
		} else {
			n.logger.Errorf("Failed to start ethernet: %v", err)
		}
		n.post(fsm.NewEvent(fsm.EvFail))
		return
	}
	n.post(fsm.NewEvent(fsm.EvSuccess))
}

func (n *NetworkManager) handleEthStarting(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvFail:
		return n.traverse(fsm.StateWifiInitializing)
	case fsm.EvSuccess:
		if n.deps.Ethernet != nil && n.deps.Ethernet.LinkStatus() == LinkUp {
			return n.switchTo(fsm.StateEthLinkUp)
		}
		return n.switchTo(fsm.StateEthLinkDown)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterEthConnectingNew() {
	n.startWifi()
	n.logger.Infof("Connecting to %s while on ethernet", n.pending.SSID)
	if err := n.deps.Wifi.Connect(n.pending); err != nil {
		n.logger.Errorf("Failed to connect to %s: %v", n.pending.SSID, err)
		n.post(fsm.LostConnectionEvent(fsm.ReasonUnspecified))
		return
	}
	n.timer.Arm(n.cfg.DHCPTimeout, fsm.TimerDHCP, fsm.StateEthConnectingNew, fsm.ScopeState)
}

func (n *NetworkManager) handleEthConnectingNew(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvGotIP:
		n.active, n.hasActive = n.pending, true
		return n.traverse(fsm.StateWifiConnected)
	case fsm.EvConnected:
		n.logger.Debugf("Associated with %s, waiting for an address", n.pending.SSID)
		return fsm.Handled
	case fsm.EvLostConnection, fsm.EvTimer:
		n.updateStatus(status.ReasonFailedAttempt)
		n.notify(MessageError, fmt.Sprintf("Unable to connect to %s", n.pending.SSID))
		n.post(fsm.NewEvent(fsm.EvEthernetFallback))
		return fsm.Handled
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterEthLinkUp() {
	n.timer.Arm(n.cfg.DHCPTimeout, fsm.TimerDHCP, fsm.StateEthLinkUp, fsm.ScopeState)
}

func (n *NetworkManager) enterEthLinkDown() {
	n.timer.Arm(n.cfg.EthTimeout, fsm.TimerEthLinkDown, fsm.StateEthLinkDown, fsm.ScopeState)
}

func (n *NetworkManager) enterEthConnected() {
	n.timer.Stop()
	n.mu.Lock()
	n.ethConnected = true
	n.mu.Unlock()
	n.setReason(status.ReasonEthernetConnected)
}

func (n *NetworkManager) exitEthConnected() {
	n.mu.Lock()
	n.ethConnected = false
	n.mu.Unlock()
}

func (n *NetworkManager) handleEthConnected(ev fsm.Event) fsm.Result {
	if ev.ID == fsm.EvTimer {
		n.logger.Debugf("Ignoring timer %s while connected", ev.Tag)
		return fsm.Handled
	}
	return fsm.Unhandled
}

// WiFi station root

func (n *NetworkManager) handleWifiActive(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvLinkUp:
		n.logger.Warnf("Ethernet link up in WiFi mode")
		return fsm.Handled
	case fsm.EvEthGotIP, fsm.EvEthernetFallback:
		if ev.ID == fsm.EvEthGotIP && n.coexistence() {
			return fsm.Handled
		}
		return n.traverse(fsm.StateEthConnected)
	case fsm.EvGotIP:
		n.setReason(status.ReasonOK)
		return n.switchTo(fsm.StateWifiConnected)
	case fsm.EvScan:
		n.scan()
		return fsm.Handled
	case fsm.EvScanDone:
		n.scanDone()
		return fsm.Handled
	case fsm.EvConnectNew:
		n.pending = ev.Credentials
		return n.switchTo(fsm.StateWifiConnectingNew)
	case fsm.EvDelete:
		return n.switchTo(fsm.StateWifiUserDisconnected)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiInitializing() {
	if err := n.startWifi(); err != nil {
		n.notify(MessageWarning, "WiFi not started. Load configuration")
		return
	}
	if _, ok := n.activeCredentials(); ok {
		n.logger.Infof("Existing WiFi configuration found. Attempting to connect")
		n.post(fsm.NewEvent(fsm.EvSuccess))
		return
	}
	n.logger.Warnf("No saved WiFi. Starting AP configuration mode")
	n.post(fsm.NewEvent(fsm.EvConfigure))
}

func (n *NetworkManager) handleWifiInitializing(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvConfigure:
		return n.traverse(fsm.StateWifiConfiguring)
	case fsm.EvSuccess:
		return n.switchTo(fsm.StateWifiConnecting)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiConnecting() {
	n.retry.ResetInterval()
	if n.connectActive() {
		n.timer.Arm(n.retry.Interval(), fsm.TimerWifiPolling, fsm.StateWifiConnecting, fsm.ScopeState)
	}
}

func (n *NetworkManager) handleWifiConnecting(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvConnected, fsm.EvSuccess:
		n.logger.Debugf("Associated with %s, waiting for an address", n.active.SSID)
		return fsm.Handled
	case fsm.EvTimer:
		n.logger.Infof("Timer: %s. Reconnecting", ev.Tag)
		if n.connectActive() {
			n.timer.Arm(n.retry.Interval(), fsm.TimerWifiPolling, fsm.StateWifiConnecting, fsm.ScopeState)
		}
		return fsm.Handled
	case fsm.EvLostConnection:
		return n.switchTo(fsm.StateWifiLostConnection)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiConnectingNew() {
	n.startWifi()
	n.logger.Infof("Connecting to new network %s", n.pending.SSID)
	if err := n.deps.Wifi.Connect(n.pending); err != nil {
		n.logger.Errorf("Failed to connect to %s: %v", n.pending.SSID, err)
		n.post(fsm.LostConnectionEvent(fsm.ReasonUnspecified))
		return
	}
	n.timer.Arm(n.cfg.DHCPTimeout, fsm.TimerDHCP, fsm.StateWifiConnectingNew, fsm.ScopeState)
}

func (n *NetworkManager) handleWifiConnectingNew(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvGotIP:
		n.active, n.hasActive = n.pending, true
		n.setReason(status.ReasonOK)
		return n.switchTo(fsm.StateWifiConnected)
	case fsm.EvConnected:
		n.logger.Debugf("Associated with new network %s, waiting for an address", n.pending.SSID)
		return fsm.Handled
	case fsm.EvLostConnection:
		if ev.Reason == fsm.ReasonAssocLeave {
			n.logger.Debugf("Left the previous access point")
			return fsm.Handled
		}
		n.logger.Warnf("Connecting to %s failed (reason %d)", n.pending.SSID, ev.Reason)
		return n.switchTo(fsm.StateWifiConnectingNewFailed)
	case fsm.EvTimer:
		n.logger.Warnf("Timer: %s while connecting to %s", ev.Tag, n.pending.SSID)
		return n.switchTo(fsm.StateWifiConnectingNewFailed)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiConnectingNewFailed() {
	n.setReason(status.ReasonFailedAttempt)
	n.notify(MessageError, fmt.Sprintf("Unable to connect to %s", n.pending.SSID))

	n.mu.Lock()
	wasConnected := n.wifiConnected
	n.mu.Unlock()
	if wasConnected && n.hasActive {
		n.logger.Infof("Restoring connection to %s", n.active.SSID)
		n.connectActive()
		return
	}
	n.post(fsm.NewEvent(fsm.EvConfigure))
}

func (n *NetworkManager) handleWifiConnectingNewFailed(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvGotIP:
		n.setReason(status.ReasonFailedAttemptAndRestore)
		return n.switchTo(fsm.StateWifiConnected)
	case fsm.EvConnected:
		n.logger.Debugf("Associated with previous network, waiting for an address")
		return fsm.Handled
	case fsm.EvLostConnection:
		n.setReason(status.ReasonFailedAttempt)
		n.notify(MessageError, "Unable to fall back to previous access point")
		return n.switchTo(fsm.StateWifiLostConnection)
	case fsm.EvConfigure:
		return n.traverse(fsm.StateWifiConfiguring)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiConnected() {
	n.timer.Stop()
	n.retry.Reset()

	n.mu.Lock()
	n.lastConnected = n.now()
	n.mu.Unlock()

	n.saveCredentialsIfChanged()
	if n.machine.SourceState().Root() == fsm.StateEthActive {
		// the network stack cannot move the default route while both are up
		n.notify(MessageWarning, "WiFi connected with ethernet active. System reload needed")
		n.prioritizeWifi(true)
		n.restart()
	}

	n.mu.Lock()
	n.wifiConnected = true
	n.mu.Unlock()
}

func (n *NetworkManager) exitWifiConnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.lastConnected.IsZero() {
		n.totalConnected += n.now().Sub(n.lastConnected)
		n.lastConnected = time.Time{}
	}
}

func (n *NetworkManager) handleWifiConnected(ev fsm.Event) fsm.Result {
	if ev.ID == fsm.EvLostConnection {
		return n.switchTo(fsm.StateWifiLostConnection)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiUserDisconnected() {
	n.logger.Infof("WiFi disconnected by user")
	n.clearCredentials()
	n.mu.Lock()
	n.wifiConnected = false
	n.mu.Unlock()
	if err := n.deps.Wifi.Disconnect(); err != nil {
		n.logger.Warnf("Failed to disconnect: %v", err)
	}
	n.setReason(status.ReasonUserDisconnect)
}

func (n *NetworkManager) handleWifiUserDisconnected(ev fsm.Event) fsm.Result {
	if ev.ID == fsm.EvLostConnection {
		// the disconnect we asked for
		return n.traverse(fsm.StateWifiConfiguring)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) enterWifiLostConnection() {
	n.logger.Errorf("WiFi connection lost")
	n.notify(MessageWarning, "WiFi connection lost")

	n.mu.Lock()
	n.wifiConnected = false
	n.numDisconnect++
	count, total := n.numDisconnect, n.totalConnected
	n.mu.Unlock()
	n.logger.Warnf("WiFi disconnected. Number of disconnects: %d, average time connected: %v", count, total/time.Duration(count))
	n.setReason(status.ReasonLostConnection)

	if n.retry.Attempt() {
		n.logger.Infof("Retrying connection, %d/%d", n.retry.Retries(), n.retry.MaxRetry())
		n.connectActive()
		return
	}

	if n.ethernetActive() {
		n.logger.Warnf("Cannot connect to WiFi. Falling back to ethernet")
		n.post(fsm.NewEvent(fsm.EvEthernetFallback))
		return
	}

	// backoff growth while the portal is up happens in handleWifiConfiguring
	n.logger.Warnf("All connect retry attempts failed")
	n.retry.ResetInterval()
	n.post(fsm.NewEvent(fsm.EvConfigure))
	n.timer.Arm(n.retry.Interval(), fsm.TimerWifiPolling, fsm.StateWifiLostConnection, fsm.ScopeMachine)
	n.logger.Debugf("STA search slow polling of %v", n.retry.Interval())
}

func (n *NetworkManager) handleWifiLostConnection(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvConfigure:
		return n.traverse(fsm.StateWifiConfiguring)
	case fsm.EvTimer:
		n.logger.Infof("Timer: %s", ev.Tag)
		return n.switchTo(fsm.StateWifiLostConnection)
	case fsm.EvLostConnection:
		return n.switchTo(fsm.StateWifiLostConnection)
	case fsm.EvConnected:
		n.logger.Debugf("Associated again, waiting for an address")
		return fsm.Handled
	}
	return fsm.Unhandled
}

// Access point root

func (n *NetworkManager) enterWifiConfiguringActive() {
	n.startWifi()
	if err := n.deps.Wifi.StartAP(); err != nil {
		n.logger.Errorf("Failed to start access point: %v", err)
	}
	n.mu.Lock()
	n.apMode = true
	n.mu.Unlock()
	n.scan()
}

func (n *NetworkManager) exitWifiConfiguringActive() {
	n.logger.Debugf("Stopping access point, back to STA mode")
	if err := n.deps.Wifi.StopAP(); err != nil {
		n.logger.Warnf("Failed to stop access point: %v", err)
	}
	n.mu.Lock()
	n.apMode = false
	n.mu.Unlock()
}

func (n *NetworkManager) handleWifiConfiguringActive(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvScan:
		n.scan()
		return fsm.Handled
	case fsm.EvScanDone:
		n.scanDone()
		return fsm.Handled
	case fsm.EvConnectNew:
		n.pending = ev.Credentials
		return n.switchTo(fsm.StateWifiConfiguringConnect)
	case fsm.EvLinkUp:
		n.logger.Warnf("Ethernet link up in WiFi mode")
		return fsm.Handled
	case fsm.EvEthGotIP, fsm.EvEthernetFallback:
		if ev.ID == fsm.EvEthGotIP && n.coexistence() {
			return fsm.Handled
		}
		return n.traverse(fsm.StateEthConnected)
	}
	return fsm.Unhandled
}

// enterWifiConfiguring keeps polling for the stored network in the
// background. A polling timer carried over from the station states is
// left running.
func (n *NetworkManager) enterWifiConfiguring() {
	if _, _, running := n.timer.Active(); running {
		return
	}
	if _, ok := n.activeCredentials(); !ok {
		return
	}
	n.timer.Arm(n.retry.Interval(), fsm.TimerWifiPolling, fsm.StateWifiConfiguring, fsm.ScopeMachine)
}

func (n *NetworkManager) handleWifiConfiguring(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvTimer:
		// slow polling for the stored network while the portal is up
		creds, ok := n.activeCredentials()
		if !ok {
			n.logger.Debugf("Timer: %s, no stored network to poll", ev.Tag)
			return fsm.Handled
		}
		if err := n.deps.Wifi.Connect(creds); err != nil {
			n.logger.Warnf("Background connect to %s failed: %v", creds.SSID, err)
		}
		interval := n.retry.Grow()
		n.timer.Arm(interval, fsm.TimerWifiPolling, fsm.StateWifiConfiguring, fsm.ScopeMachine)
		n.logger.Debugf("STA search slow polling of %v", interval)
		return fsm.Handled
	case fsm.EvGotIP:
		n.setReason(status.ReasonOK)
		return n.traverse(fsm.StateWifiConnected)
	case fsm.EvConnected, fsm.EvLostConnection:
		return fsm.Handled
	}
	return fsm.Unhandled
}

// enterWifiConfiguringConnect pauses background polling for the stored
// network; enterWifiConfiguring arms it again if the attempt fails.
func (n *NetworkManager) enterWifiConfiguringConnect() {
	n.timer.Stop()
	n.logger.Infof("Connecting to %s from the configuration portal", n.pending.SSID)
	if err := n.deps.Wifi.Connect(n.pending); err != nil {
		n.logger.Errorf("Failed to connect to %s: %v", n.pending.SSID, err)
		n.post(fsm.LostConnectionEvent(fsm.ReasonUnspecified))
	}
}

func (n *NetworkManager) handleWifiConfiguringConnect(ev fsm.Event) fsm.Result {
	switch ev.ID {
	case fsm.EvConnected:
		n.timer.Arm(n.cfg.DHCPTimeout, fsm.TimerDHCP, fsm.StateWifiConfiguringConnect, fsm.ScopeState)
		return fsm.Handled
	case fsm.EvGotIP:
		n.active, n.hasActive = n.pending, true
		return n.switchTo(fsm.StateWifiConfiguringConnectSuccess)
	case fsm.EvLostConnection:
		if ev.Reason == fsm.ReasonAssocLeave {
			return fsm.Handled
		}
		n.configuringConnectFailed()
		return n.switchTo(fsm.StateWifiConfiguring)
	case fsm.EvTimer:
		if ev.Tag != fsm.TimerDHCP {
			n.logger.Debugf("Ignoring timer %s while connecting to %s", ev.Tag, n.pending.SSID)
			return fsm.Handled
		}
		n.logger.Warnf("Timer: %s while connecting to %s", ev.Tag, n.pending.SSID)
		n.configuringConnectFailed()
		return n.switchTo(fsm.StateWifiConfiguring)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) configuringConnectFailed() {
	n.setReason(status.ReasonFailedAttempt)
	n.notify(MessageError, fmt.Sprintf("Unable to connect to %s", n.pending.SSID))
}

func (n *NetworkManager) enterWifiConfiguringConnectSuccess() {
	n.setReason(status.ReasonOK)
	n.logger.Debugf("Saving WiFi configuration")
	if err := n.deps.Creds.SaveCredentials(n.active); err != nil {
		n.logger.Errorf("Failed to save credentials: %v", err)
	}
}

// The UI sees the success on its next status poll; only then the portal
// is taken down.
func (n *NetworkManager) handleWifiConfiguringConnectSuccess(ev fsm.Event) fsm.Result {
	if ev.ID == fsm.EvUpdateStatus {
		return n.switchTo(fsm.StateWifiConfiguringConnectSuccessGotoSta)
	}
	return fsm.Unhandled
}

func (n *NetworkManager) handleWifiConfiguringConnectSuccessGotoSta(ev fsm.Event) fsm.Result {
	if ev.ID == fsm.EvUpdateStatus {
		return n.traverse(fsm.StateWifiConnected)
	}
	return fsm.Unhandled
}

// coexistence decides what happens when ethernet gets an address while
// WiFi is in use. It returns false when WiFi is not connected and the
// caller should move to ethernet instead.
func (n *NetworkManager) coexistence() bool {
	n.mu.Lock()
	wifiConnected := n.wifiConnected
	n.mu.Unlock()
	if !wifiConnected {
		return false
	}

	n.prioritizeWifi(false)
	ethBoot := "N"
	if n.deps.Settings != nil {
		if v, err := n.deps.Settings.GetSetting(SettingEthBoot); err == nil && v != "" {
			ethBoot = v
		}
	}
	if !strings.EqualFold(strings.TrimSpace(ethBoot), "N") {
		n.logger.Warnf("Rebooting to switch to ethernet (%s=%s)", SettingEthBoot, ethBoot)
		n.restart()
	} else {
		n.logger.Warnf("Ethernet connected, keeping WiFi until next reboot")
	}
	return true
}

// helpers

func (n *NetworkManager) startWifi() error {
	if n.wifiStarted {
		return nil
	}
	if err := n.deps.Wifi.Start(); err != nil {
		n.logger.Errorf("Failed to start WiFi: %v", err)
		return err
	}
	n.wifiStarted = true
	return nil
}

func (n *NetworkManager) scan() {
	if err := n.deps.Wifi.StartScan(); err != nil {
		n.logger.Warnf("Failed to start WiFi scan: %v", err)
	}
}

// scanDone rebuilds the access point list served to the portal.
func (n *NetworkManager) scanDone() {
	aps, err := n.deps.Wifi.ScanResults()
	if err != nil {
		n.logger.Warnf("Failed to read scan results: %v", err)
		return
	}
	known := ""
	if creds, ok := n.activeCredentials(); ok {
		known = creds.SSID
	}
	list := n.status.SetAccessPoints(aps, known)
	n.logger.Debugf("WiFi scan completed, %d access points", len(list))
}

func (n *NetworkManager) activeCredentials() (fsm.Credentials, bool) {
	if n.hasActive {
		return n.active, true
	}
	creds, ok, err := n.deps.Creds.LoadCredentials()
	if err != nil {
		n.logger.Errorf("Failed to load credentials: %v", err)
		return fsm.Credentials{}, false
	}
	if !ok || creds.SSID == "" {
		return fsm.Credentials{}, false
	}
	n.active, n.hasActive = creds, true
	return creds, true
}

// connectActive connects to the stored network. When that is not
// possible it falls back to ethernet or asks for the portal.
func (n *NetworkManager) connectActive() bool {
	creds, ok := n.activeCredentials()
	err := errNoCredentials
	if ok {
		n.startWifi()
		err = n.deps.Wifi.Connect(creds)
	}
	if err == nil {
		return true
	}

	n.logger.Errorf("Cannot connect to stored network: %v", err)
	n.mu.Lock()
	n.wifiConnected = false
	n.mu.Unlock()
	if n.ethernetActive() {
		n.logger.Debugf("Ethernet connection found, falling back")
		n.post(fsm.NewEvent(fsm.EvEthernetFallback))
	} else {
		n.logger.Debugf("No ethernet and no WiFi. Going to configuration mode")
		n.retry.ResetInterval()
		n.post(fsm.NewEvent(fsm.EvConfigure))
	}
	return false
}

func (n *NetworkManager) saveCredentialsIfChanged() {
	if !n.hasActive {
		return
	}
	stored, ok, err := n.deps.Creds.LoadCredentials()
	if err != nil {
		n.logger.Warnf("Failed to read stored credentials: %v", err)
	}
	if ok && stored == n.active {
		return
	}
	n.logger.Debugf("WiFi configuration changed, saving")
	if err := n.deps.Creds.SaveCredentials(n.active); err != nil {
		n.logger.Errorf("Failed to save credentials: %v", err)
	}
}

func (n *NetworkManager) clearCredentials() {
	n.active, n.hasActive = fsm.Credentials{}, false
	if err := n.deps.Creds.ClearCredentials(); err != nil {
		n.logger.Errorf("Failed to clear credentials: %v", err)
	}
}

// ethernetActive reports whether the wired interface has an address.
func (n *NetworkManager) ethernetActive() bool {
	if n.deps.Ethernet == nil {
		return false
	}
	_, ok := n.deps.Ethernet.IPInfo()
	return ok
}

func (n *NetworkManager) prioritizeWifi(on bool) {
	if n.deps.Settings == nil {
		return
	}
	v := "N"
	if on {
		v = "Y"
	}
	if err := n.deps.Settings.SetSetting(SettingPrioritizeWifi, v); err != nil {
		n.logger.Warnf("Failed to store %s: %v", SettingPrioritizeWifi, err)
	}
}

func (n *NetworkManager) restart() {
	if n.deps.Rebooter == nil {
		n.logger.Errorf("Restart needed but no rebooter configured")
		return
	}
	if err := n.deps.Rebooter.Reboot(fsm.RebootRestart); err != nil {
		n.logger.Errorf("Restart failed: %v", err)
	}
}

func (n *NetworkManager) refreshStatus() {
	n.updateStatus(n.lastReason)
}

// setReason records the reason for the snapshot published once the
// machine settles in its next state.
func (n *NetworkManager) setReason(reason status.ReasonCode) {
	n.lastReason = reason
}

func (n *NetworkManager) updateStatus(reason status.ReasonCode) {
	n.lastReason = reason

	n.mu.Lock()
	info := status.Info{
		DisconnectCount: n.numDisconnect,
		ConnectedTime:   n.totalConnected,
	}
	apMode := n.apMode
	n.mu.Unlock()

	cur := n.machine.Current()
	info.State = cur.Root().String()
	info.SubState = cur.String()
	info.Recovery = n.cfg.Recovery
	info.Hostname = n.Hostname()

	if ip, ok := n.deps.Wifi.IPInfo(); ok || reason == status.ReasonFailedAttempt {
		info.Interface = status.InterfaceWifi
		info.IP, info.Netmask, info.Gateway = ip.IP, ip.Netmask, ip.Gateway
		if !apMode {
			if ssid, rssi, ok := n.deps.Wifi.APInfo(); ok {
				info.SSID, info.RSSI, info.HasRSSI = ssid, rssi, true
			}
		}
	} else if apMode {
		info.Interface = status.InterfaceAP
	}

	if eth := n.deps.Ethernet; eth != nil {
		info.EthEnabled = true
		info.EthUp = eth.LinkStatus() == LinkUp
		if ip, ok := eth.IPInfo(); ok {
			info.Interface = status.InterfaceEth
			info.IP, info.Netmask, info.Gateway = ip.IP, ip.Netmask, ip.Gateway
		}
	}

	n.status.Update(reason, info)
}
