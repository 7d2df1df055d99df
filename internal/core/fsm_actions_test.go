package core

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"network-service/internal/fsm"
	"network-service/internal/status"
)

func TestBootWithoutCredentialsEntersConfiguration(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.boot(t)

	want := []fsm.StateID{
		fsm.StateInstantiated,
		fsm.StateInitializing,
		fsm.StateEthStarting,
		fsm.StateWifiInitializing,
		fsm.StateWifiConfiguring,
	}
	if !reflect.DeepEqual(ts.leaves, want) {
		t.Fatalf("Expected trace %v, got %v", want, ts.leaves)
	}
	if ts.wifi.apStarts != 1 {
		t.Errorf("Expected AP started once, got %d", ts.wifi.apStarts)
	}
	if ts.wifi.scans == 0 {
		t.Errorf("Expected a scan when the portal comes up")
	}
	if !ts.n.Stats().APMode {
		t.Errorf("Expected AP mode")
	}
	if _, _, running := ts.n.timer.Active(); running {
		t.Errorf("Expected no polling timer without stored credentials")
	}
	if got := ts.n.Status().Snapshot().Interface; got != status.InterfaceAP {
		t.Errorf("Expected interface %q, got %q", status.InterfaceAP, got)
	}
}

func TestBootWithStoredCredentialsConnects(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.creds.SaveCredentials(fsm.Credentials{SSID: "Home", Password: "secret"})
	ts.boot(t)

	ts.expectState(t, fsm.StateWifiConnecting)
	if got := ts.wifi.lastConnect(); got.SSID != "Home" {
		t.Errorf("Expected connect to Home, got %q", got.SSID)
	}
	tag, d, running := ts.n.timer.Active()
	if !running || tag != fsm.TimerWifiPolling || d != time.Hour {
		t.Errorf("Expected polling timer of 1h, got %q %v %v", tag, d, running)
	}

	// associated, waiting for an address
	ts.fire(fsm.NewEvent(fsm.EvSuccess))
	ts.expectState(t, fsm.StateWifiConnecting)

	ts.wifi.hasIP = true
	ts.wifi.ip = IPInfo{IP: "192.168.1.20", Netmask: "255.255.255.0", Gateway: "192.168.1.1"}
	ts.wifi.ssid, ts.wifi.rssi = "Home", -55
	ts.fire(fsm.NewEvent(fsm.EvGotIP))

	ts.expectState(t, fsm.StateWifiConnected)
	if ts.n.Stats().Disconnects != 0 {
		t.Errorf("Expected no disconnects, got %d", ts.n.Stats().Disconnects)
	}
	if _, _, running := ts.n.timer.Active(); running {
		t.Errorf("Expected timer stopped once connected")
	}
	if ts.creds.saves != 1 {
		t.Errorf("Expected credentials untouched, got %d saves", ts.creds.saves)
	}

	snap := ts.n.Status().Snapshot()
	if snap.Interface != status.InterfaceWifi || snap.SSID != "Home" || snap.IP != "192.168.1.20" {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.RSSI == nil || *snap.RSSI != -55 {
		t.Errorf("Expected RSSI -55, got %v", snap.RSSI)
	}
}

func TestEthStartingNeverStays(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		ts := newTestSystem(t, testConfig())
		ts.boot(t)
		if ts.state() == fsm.StateEthStarting {
			t.Fatalf("Machine stuck in %s", fsm.StateEthStarting)
		}
		if ts.state().Root() == fsm.StateEthActive {
			t.Errorf("Expected to leave ethernet, got %s", ts.state())
		}
		if ts.leaves[3] != fsm.StateWifiInitializing {
			t.Errorf("Expected %s after Fail, got %s", fsm.StateWifiInitializing, ts.leaves[3])
		}
	})

	t.Run("success link down", func(t *testing.T) {
		ts := newTestSystem(t, testConfig())
		ts.eth.startErr = nil
		ts.boot(t)
		ts.expectState(t, fsm.StateEthLinkDown)
		tag, _, running := ts.n.timer.Active()
		if !running || tag != fsm.TimerEthLinkDown {
			t.Errorf("Expected %q timer, got %q (%v)", fsm.TimerEthLinkDown, tag, running)
		}
	})

	t.Run("success link up", func(t *testing.T) {
		ts := newTestSystem(t, testConfig())
		ts.eth.startErr = nil
		ts.eth.link = LinkUp
		ts.boot(t)
		ts.expectState(t, fsm.StateEthLinkUp)
		tag, _, running := ts.n.timer.Active()
		if !running || tag != fsm.TimerDHCP {
			t.Errorf("Expected %q timer, got %q (%v)", fsm.TimerDHCP, tag, running)
		}
	})
}

func TestEthernetConnects(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.boot(t)

	ts.fire(fsm.NewEvent(fsm.EvLinkUp))
	ts.expectState(t, fsm.StateEthLinkUp)

	ts.eth.setIP("192.168.1.30")
	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))

	ts.expectState(t, fsm.StateEthConnected)
	if ts.n.ActiveInterface() != InterfaceEthernet {
		t.Errorf("Expected ethernet interface, got %s", ts.n.ActiveInterface())
	}
	if _, _, running := ts.n.timer.Active(); running {
		t.Errorf("Expected no timer while connected")
	}
	if !ts.n.Stats().EthConnected {
		t.Errorf("Expected ethernet connected flag")
	}
	snap := ts.n.Status().Snapshot()
	if snap.Interface != status.InterfaceEth || snap.Reason != status.ReasonEthernetConnected {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
	if snap.EthUp == nil || !*snap.EthUp {
		t.Errorf("Expected eth_up true")
	}

	// stray timer events are ignored once connected
	ts.fire(fsm.TimerEvent(fsm.TimerDHCP))
	ts.expectState(t, fsm.StateEthConnected)
	if ts.rebooter.count() != 0 {
		t.Errorf("Expected no reboot, got %d", ts.rebooter.count())
	}
}

func TestEthernetLinkDownTimeoutRebootsToWifi(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.boot(t)
	ts.expectState(t, fsm.StateEthLinkDown)

	ts.fire(fsm.TimerEvent(fsm.TimerEthLinkDown))

	if ts.settings.get(SettingPrioritizeWifi) != "Y" {
		t.Errorf("Expected WiFi prioritized, got %q", ts.settings.get(SettingPrioritizeWifi))
	}
	if ts.rebooter.count() != 1 || ts.rebooter.reboots[0] != fsm.RebootRestart {
		t.Errorf("Expected one restart, got %v", ts.rebooter.reboots)
	}
}

func TestPrioritizedWifiSkipsEthernet(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.settings.SetSetting(SettingPrioritizeWifi, "Y")
	ts.boot(t)

	if ts.eth.starts != 0 {
		t.Errorf("Expected ethernet untouched, got %d starts", ts.eth.starts)
	}
	if ts.leaves[2] != fsm.StateWifiInitializing {
		t.Errorf("Expected %s after Initializing, got %v", fsm.StateWifiInitializing, ts.leaves)
	}
}

func TestRecoveryBootSkipsEthernet(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery = true
	ts := newTestSystem(t, cfg)
	ts.eth.startErr = nil
	ts.boot(t)

	if ts.eth.starts != 0 {
		t.Errorf("Expected ethernet untouched, got %d starts", ts.eth.starts)
	}
	if ts.n.Status().Snapshot().Recovery != 1 {
		t.Errorf("Expected recovery flag in status")
	}
}

func TestRetryCeilingEntersConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetry = 2
	ts := connectedToHome(t, cfg)
	before := ts.wifi.connectCount()

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout))
	ts.expectState(t, fsm.StateWifiLostConnection)
	if ts.n.retry.Retries() != 1 {
		t.Errorf("Expected retry 1, got %d", ts.n.retry.Retries())
	}

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout))
	ts.expectState(t, fsm.StateWifiLostConnection)
	if ts.n.retry.Retries() != 2 {
		t.Errorf("Expected retry 2, got %d", ts.n.retry.Retries())
	}
	if got := ts.wifi.connectCount() - before; got != 2 {
		t.Errorf("Expected 2 immediate retries, got %d", got)
	}
	if ts.wifi.lastConnect().SSID != "Home" {
		t.Errorf("Expected retries on Home, got %q", ts.wifi.lastConnect().SSID)
	}

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout))
	ts.expectState(t, fsm.StateWifiConfiguring)
	if ts.n.retry.Retries() != 0 {
		t.Errorf("Expected retries reset, got %d", ts.n.retry.Retries())
	}
	if got := ts.wifi.connectCount() - before; got != 2 {
		t.Errorf("Expected no third immediate retry, got %d connects", got)
	}
	tag, d, running := ts.n.timer.Active()
	if !running || tag != fsm.TimerWifiPolling || d != time.Hour {
		t.Errorf("Expected polling timer at the floor, got %q %v %v", tag, d, running)
	}
	if ts.n.Stats().Disconnects != 3 {
		t.Errorf("Expected 3 disconnects, got %d", ts.n.Stats().Disconnects)
	}
}

func TestRetryCeilingFallsBackToEthernet(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetry = 2
	ts := connectedToHome(t, cfg)
	ts.eth.setIP("192.168.1.30")

	for i := 0; i < 3; i++ {
		ts.fire(fsm.LostConnectionEvent(fsm.ReasonNoAPFound))
	}

	ts.expectState(t, fsm.StateEthConnected)
	if ts.n.retry.Retries() != 0 {
		t.Errorf("Expected retries reset, got %d", ts.n.retry.Retries())
	}
}

func TestPollingBackoffIsMonotonic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetry = 0
	ts := connectedToHome(t, cfg)

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout))
	ts.expectState(t, fsm.StateWifiConfiguring)

	prev := ts.n.retry.Interval()
	for i := 0; i < 10; i++ {
		ts.fire(fsm.TimerEvent(fsm.TimerWifiPolling))
		cur := ts.n.retry.Interval()
		if cur < prev {
			t.Fatalf("Interval decreased from %v to %v", prev, cur)
		}
		if cur > cfg.PollMax {
			t.Fatalf("Interval %v above ceiling %v", cur, cfg.PollMax)
		}
		prev = cur
	}
	if prev != cfg.PollMax {
		t.Errorf("Expected interval to reach the ceiling, got %v", prev)
	}
	if ts.wifi.lastConnect().SSID != "Home" {
		t.Errorf("Expected background polling for Home")
	}

	ts.fire(fsm.NewEvent(fsm.EvGotIP))
	ts.expectState(t, fsm.StateWifiConnected)
	if ts.n.retry.Interval() != cfg.PollMin {
		t.Errorf("Expected interval reset to %v, got %v", cfg.PollMin, ts.n.retry.Interval())
	}
	if ts.wifi.apStops != 1 {
		t.Errorf("Expected AP stopped, got %d", ts.wifi.apStops)
	}
}

func TestUpdateStatusNeverChangesState(t *testing.T) {
	ts := connectedToHome(t, testConfig())

	for _, ev := range []fsm.Event{
		fsm.NewEvent(fsm.EvUpdateStatus),
		fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout),
		fsm.NewEvent(fsm.EvUpdateStatus),
		fsm.NewEvent(fsm.EvDelete),
	} {
		ts.fire(ev)
		state := ts.state()
		count := ts.n.Status().UpdateCount()
		for i := 0; i < 5; i++ {
			ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
		}
		if ts.state() != state {
			t.Fatalf("UpdateStatus moved %s to %s", state, ts.state())
		}
		if got := ts.n.Status().UpdateCount(); got != count+5 {
			t.Errorf("Expected update count %d, got %d", count+5, got)
		}
	}
}

func TestPortalConnectHandshake(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.boot(t)
	ts.expectState(t, fsm.StateWifiConfiguring)

	creds := fsm.Credentials{SSID: "Cafe", Password: "latte123"}
	ts.fire(fsm.ConnectNewEvent(creds))
	ts.expectState(t, fsm.StateWifiConfiguringConnect)
	if ts.wifi.lastConnect() != creds {
		t.Errorf("Expected connect to %+v, got %+v", creds, ts.wifi.lastConnect())
	}

	ts.fire(fsm.NewEvent(fsm.EvConnected))
	if tag, _, running := ts.n.timer.Active(); !running || tag != fsm.TimerDHCP {
		t.Errorf("Expected DHCP timer after association, got %q (%v)", tag, running)
	}

	ts.fire(fsm.NewEvent(fsm.EvGotIP))
	ts.expectState(t, fsm.StateWifiConfiguringConnectSuccess)
	if stored, ok, _ := ts.creds.LoadCredentials(); !ok || stored != creds {
		t.Errorf("Expected credentials saved, got %+v (%v)", stored, ok)
	}
	if _, _, running := ts.n.timer.Active(); running {
		t.Errorf("Expected DHCP timer released")
	}

	// the UI poll acknowledges, the next one moves back to station mode
	ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
	ts.expectState(t, fsm.StateWifiConfiguringConnectSuccessGotoSta)
	ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
	ts.expectState(t, fsm.StateWifiConnected)

	if ts.wifi.apStops != 1 {
		t.Errorf("Expected AP stopped once, got %d", ts.wifi.apStops)
	}
	if ts.n.Stats().APMode {
		t.Errorf("Expected AP mode off")
	}
	if !ts.n.Stats().WifiConnected {
		t.Errorf("Expected WiFi connected")
	}
}

func TestPortalConnectFailureStaysInPortal(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.boot(t)

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Cafe", Password: "wrong"}))
	// leaving the previous AP is not a failure
	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAssocLeave))
	ts.expectState(t, fsm.StateWifiConfiguringConnect)

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAuthFail))
	ts.expectState(t, fsm.StateWifiConfiguring)

	if ts.notifier.count(MessageError) != 1 {
		t.Errorf("Expected one error message, got %d", ts.notifier.count(MessageError))
	}
	if ts.n.Status().Snapshot().Reason != status.ReasonFailedAttempt {
		t.Errorf("Expected failed-attempt reason")
	}
	if _, ok, _ := ts.creds.LoadCredentials(); ok {
		t.Errorf("Expected no credentials stored")
	}
	if ts.wifi.apStops != 0 {
		t.Errorf("Expected AP still running")
	}
}

func TestConnectNewFailureRestoresPrevious(t *testing.T) {
	ts := connectedToHome(t, testConfig())

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Other", Password: "nope"}))
	ts.expectState(t, fsm.StateWifiConnectingNew)

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAssocLeave))
	ts.expectState(t, fsm.StateWifiConnectingNew)

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAuthFail))
	ts.expectState(t, fsm.StateWifiConnectingNewFailed)
	if ts.wifi.lastConnect().SSID != "Home" {
		t.Errorf("Expected reconnect to Home, got %q", ts.wifi.lastConnect().SSID)
	}

	ts.fire(fsm.NewEvent(fsm.EvGotIP))
	ts.expectState(t, fsm.StateWifiConnected)
	if got := ts.n.Status().Snapshot().Reason; got != status.ReasonFailedAttemptAndRestore {
		t.Errorf("Expected reason %s, got %s", status.ReasonFailedAttemptAndRestore, got)
	}
	if stored, _, _ := ts.creds.LoadCredentials(); stored.SSID != "Home" {
		t.Errorf("Expected Home to stay stored, got %q", stored.SSID)
	}
}

func TestConnectNewFailureWithoutRestore(t *testing.T) {
	ts := connectedToHome(t, testConfig())

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Other", Password: "nope"}))
	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAuthFail))
	ts.expectState(t, fsm.StateWifiConnectingNewFailed)

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonNoAPFound))
	ts.expectState(t, fsm.StateWifiLostConnection)
	if ts.notifier.count(MessageError) != 2 {
		t.Errorf("Expected two error messages, got %d", ts.notifier.count(MessageError))
	}
}

func TestConnectNewSuccessSavesCredentials(t *testing.T) {
	ts := connectedToHome(t, testConfig())

	next := fsm.Credentials{SSID: "Office", Password: "hunter22"}
	ts.fire(fsm.ConnectNewEvent(next))
	ts.fire(fsm.NewEvent(fsm.EvConnected))
	ts.fire(fsm.NewEvent(fsm.EvGotIP))

	ts.expectState(t, fsm.StateWifiConnected)
	if stored, _, _ := ts.creds.LoadCredentials(); stored != next {
		t.Errorf("Expected %+v stored, got %+v", next, stored)
	}
}

func TestDeleteDisconnectsAndOpensPortal(t *testing.T) {
	ts := connectedToHome(t, testConfig())

	ts.fire(fsm.NewEvent(fsm.EvDelete))
	ts.expectState(t, fsm.StateWifiUserDisconnected)
	if ts.creds.clears != 1 || ts.wifi.disconnects != 1 {
		t.Errorf("Expected credentials cleared and disconnect, got %d/%d", ts.creds.clears, ts.wifi.disconnects)
	}
	if ts.n.Status().Snapshot().Reason != status.ReasonUserDisconnect {
		t.Errorf("Expected user-disconnect reason")
	}

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAssocLeave))
	ts.expectState(t, fsm.StateWifiConfiguring)
	if ts.n.Stats().Disconnects != 0 {
		t.Errorf("Expected user disconnect not counted, got %d", ts.n.Stats().Disconnects)
	}
}

func TestCoexistenceKeepsWifiByDefault(t *testing.T) {
	ts := connectedToHome(t, testConfig())
	ts.settings.SetSetting(SettingPrioritizeWifi, "Y")
	ts.eth.setIP("192.168.1.30")

	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))

	ts.expectState(t, fsm.StateWifiConnected)
	if ts.settings.get(SettingPrioritizeWifi) != "N" {
		t.Errorf("Expected WiFi priority cleared")
	}
	if ts.rebooter.count() != 0 {
		t.Errorf("Expected no reboot, got %v", ts.rebooter.reboots)
	}
}

func TestCoexistenceRebootsWhenEthernetPreferred(t *testing.T) {
	ts := connectedToHome(t, testConfig())
	ts.settings.SetSetting(SettingEthBoot, "Y")
	ts.eth.setIP("192.168.1.30")

	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))

	if ts.rebooter.count() != 1 || ts.rebooter.reboots[0] != fsm.RebootRestart {
		t.Errorf("Expected restart, got %v", ts.rebooter.reboots)
	}
}

func TestEthernetAddressWhileWifiConnectingMovesToEthernet(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.creds.SaveCredentials(fsm.Credentials{SSID: "Home", Password: "secret"})
	ts.boot(t)
	ts.expectState(t, fsm.StateWifiConnecting)

	ts.eth.setIP("192.168.1.30")
	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))

	ts.expectState(t, fsm.StateEthConnected)
	if ts.rebooter.count() != 0 {
		t.Errorf("Expected no reboot")
	}
}

func TestWifiFromEthernetRestarts(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.boot(t)
	ts.eth.setIP("192.168.1.30")
	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))
	ts.expectState(t, fsm.StateEthConnected)

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Home", Password: "secret"}))
	ts.expectState(t, fsm.StateEthConnectingNew)
	if ts.wifi.starts != 1 {
		t.Errorf("Expected WiFi started, got %d", ts.wifi.starts)
	}

	ts.fire(fsm.NewEvent(fsm.EvGotIP))

	ts.expectState(t, fsm.StateWifiConnected)
	if ts.settings.get(SettingPrioritizeWifi) != "Y" {
		t.Errorf("Expected WiFi prioritized")
	}
	if ts.rebooter.count() != 1 {
		t.Errorf("Expected restart, got %v", ts.rebooter.reboots)
	}
	if ts.notifier.count(MessageWarning) == 0 {
		t.Errorf("Expected a warning for the user")
	}
}

func TestEthernetConnectNewFailureFallsBack(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.boot(t)
	ts.eth.setIP("192.168.1.30")
	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Home", Password: "bad"}))
	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAuthFail))

	ts.expectState(t, fsm.StateEthConnected)
	if ts.n.Status().Snapshot().Reason != status.ReasonEthernetConnected {
		t.Errorf("Expected ethernet-connected after fallback")
	}
	if ts.notifier.count(MessageError) != 1 {
		t.Errorf("Expected one error message, got %d", ts.notifier.count(MessageError))
	}
}

func TestRebootIsGlobal(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.boot(t)
	state := ts.state()

	ts.fire(fsm.RebootEvent(fsm.RebootOTA))
	ts.fire(fsm.RebootURLEvent("https://example.com/fw.bin"))

	if ts.state() != state {
		t.Errorf("Expected state %s kept, got %s", state, ts.state())
	}
	if ts.rebooter.count() != 1 || ts.rebooter.reboots[0] != fsm.RebootOTA {
		t.Errorf("Expected OTA reboot, got %v", ts.rebooter.reboots)
	}
	if len(ts.rebooter.urls) != 1 || ts.rebooter.urls[0] != "https://example.com/fw.bin" {
		t.Errorf("Expected firmware url, got %v", ts.rebooter.urls)
	}
}

func TestScanInEthernetIsRefused(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.boot(t)

	ts.fire(fsm.NewEvent(fsm.EvScan))
	if ts.wifi.scans != 0 {
		t.Errorf("Expected no scan on ethernet, got %d", ts.wifi.scans)
	}
	if ts.n.machine.UnhandledCount() != 0 {
		t.Errorf("Expected scan to be handled")
	}
}

func TestSettingsOverrideTimings(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.settings.SetSetting(SettingPollMin, "20")
	ts.settings.SetSetting(SettingPollMax, "100")
	ts.creds.SaveCredentials(fsm.Credentials{SSID: "Home", Password: "secret"})
	ts.boot(t)

	ts.expectState(t, fsm.StateWifiConnecting)
	if _, d, _ := ts.n.timer.Active(); d != 20*time.Second {
		t.Errorf("Expected polling at the 20s floor, got %v", d)
	}
	if ts.n.cfg.PollMax != 100*time.Second {
		t.Errorf("Expected ceiling 100s, got %v", ts.n.cfg.PollMax)
	}
}

func (ts *testSystem) expectStatusMatchesState(t *testing.T) {
	t.Helper()
	snap := ts.n.Status().Snapshot()
	cur := ts.state()
	if snap.SubState != cur.String() || snap.State != cur.Root().String() {
		t.Fatalf("Status reports %s/%s while the machine is in %s/%s", snap.State, snap.SubState, cur.Root(), cur)
	}
}

func TestStatusFollowsState(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.creds.SaveCredentials(fsm.Credentials{SSID: "Home", Password: "secret"})
	ts.boot(t)
	ts.expectStatusMatchesState(t)

	steps := []struct {
		ev   fsm.Event
		want fsm.StateID
	}{
		{fsm.NewEvent(fsm.EvConnected), fsm.StateWifiConnecting},
		{fsm.NewEvent(fsm.EvGotIP), fsm.StateWifiConnected},
		{fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout), fsm.StateWifiLostConnection},
		{fsm.NewEvent(fsm.EvGotIP), fsm.StateWifiConnected},
		{fsm.ConnectNewEvent(fsm.Credentials{SSID: "Other", Password: "nope"}), fsm.StateWifiConnectingNew},
		{fsm.LostConnectionEvent(fsm.ReasonAuthFail), fsm.StateWifiConnectingNewFailed},
		{fsm.NewEvent(fsm.EvGotIP), fsm.StateWifiConnected},
		{fsm.NewEvent(fsm.EvDelete), fsm.StateWifiUserDisconnected},
		{fsm.LostConnectionEvent(fsm.ReasonAssocLeave), fsm.StateWifiConfiguring},
		{fsm.ConnectNewEvent(fsm.Credentials{SSID: "Cafe", Password: "latte123"}), fsm.StateWifiConfiguringConnect},
		{fsm.NewEvent(fsm.EvGotIP), fsm.StateWifiConfiguringConnectSuccess},
		{fsm.NewEvent(fsm.EvUpdateStatus), fsm.StateWifiConfiguringConnectSuccessGotoSta},
		{fsm.NewEvent(fsm.EvUpdateStatus), fsm.StateWifiConnected},
	}
	for _, step := range steps {
		ts.fire(step.ev)
		ts.expectState(t, step.want)
		ts.expectStatusMatchesState(t)
	}
	if got := ts.n.Status().Snapshot().Reason; got != status.ReasonOK {
		t.Errorf("Expected reason %s after the portal connect, got %s", status.ReasonOK, got)
	}
}

func TestStatusFollowsEthernetState(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.eth.startErr = nil
	ts.boot(t)
	ts.expectState(t, fsm.StateEthLinkDown)
	ts.expectStatusMatchesState(t)

	ts.eth.setIP("192.168.1.30")
	ts.fire(fsm.NewEvent(fsm.EvEthGotIP))
	ts.expectState(t, fsm.StateEthConnected)
	ts.expectStatusMatchesState(t)
	if snap := ts.n.Status().Snapshot(); snap.Reason != status.ReasonEthernetConnected || snap.Interface != status.InterfaceEth {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

func TestPollingTimerDoesNotAbortPortalConnect(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetry = 2
	ts := connectedToHome(t, cfg)
	for i := 0; i < 3; i++ {
		ts.fire(fsm.LostConnectionEvent(fsm.ReasonBeaconTimeout))
	}
	ts.expectState(t, fsm.StateWifiConfiguring)
	if tag, _, running := ts.n.timer.Active(); !running || tag != fsm.TimerWifiPolling {
		t.Fatalf("Expected background polling, got %q (%v)", tag, running)
	}

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Cafe", Password: "latte123"}))
	ts.expectState(t, fsm.StateWifiConfiguringConnect)
	if _, _, running := ts.n.timer.Active(); running {
		t.Errorf("Expected background polling paused during the attempt")
	}

	// a polling timeout queued just before the attempt started
	ts.fire(fsm.TimerEvent(fsm.TimerWifiPolling))
	ts.expectState(t, fsm.StateWifiConfiguringConnect)
	if ts.notifier.count(MessageError) != 0 {
		t.Errorf("Expected no failure reported, got %d errors", ts.notifier.count(MessageError))
	}

	ts.fire(fsm.LostConnectionEvent(fsm.ReasonAuthFail))
	ts.expectState(t, fsm.StateWifiConfiguring)
	if tag, _, running := ts.n.timer.Active(); !running || tag != fsm.TimerWifiPolling {
		t.Errorf("Expected background polling resumed, got %q (%v)", tag, running)
	}

	// the DHCP timeout still ends the attempt
	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Cafe", Password: "latte123"}))
	ts.fire(fsm.NewEvent(fsm.EvConnected))
	ts.fire(fsm.TimerEvent(fsm.TimerDHCP))
	ts.expectState(t, fsm.StateWifiConfiguring)
	if ts.notifier.count(MessageError) != 2 {
		t.Errorf("Expected two failures reported, got %d", ts.notifier.count(MessageError))
	}
}

// The two portal success leaves claim UpdateStatus: the UI poll is the
// acknowledgement that takes the access point down. Everywhere else it
// only refreshes the snapshot.
func TestUpdateStatusDrivesPortalHandshakeOnly(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.boot(t)

	ts.fire(fsm.ConnectNewEvent(fsm.Credentials{SSID: "Cafe", Password: "latte123"}))
	ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
	ts.expectState(t, fsm.StateWifiConfiguringConnect)

	ts.fire(fsm.NewEvent(fsm.EvGotIP))
	ts.expectState(t, fsm.StateWifiConfiguringConnectSuccess)

	count := ts.n.Status().UpdateCount()
	ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
	ts.expectState(t, fsm.StateWifiConfiguringConnectSuccessGotoSta)
	if ts.n.Status().UpdateCount() <= count {
		t.Errorf("Expected the acknowledging poll to refresh the status")
	}
	ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
	ts.expectState(t, fsm.StateWifiConnected)

	for i := 0; i < 3; i++ {
		ts.fire(fsm.NewEvent(fsm.EvUpdateStatus))
		ts.expectState(t, fsm.StateWifiConnected)
	}
}

func TestScanDoneBuildsAccessPointList(t *testing.T) {
	ts := newTestSystem(t, testConfig())
	ts.boot(t)
	ts.creds.SaveCredentials(fsm.Credentials{SSID: "Home", Password: "secret"})

	ts.wifi.aps = []status.AccessPoint{
		{SSID: "Cafe", RSSI: -70, Auth: 3, Channel: 6},
		{SSID: "", RSSI: -40},
		{SSID: "Library", RSSI: -80},
		{SSID: "Cafe", RSSI: -50, Auth: 3, Channel: 11},
	}
	ts.fire(fsm.NewEvent(fsm.EvScanDone))

	doc, stale := ts.n.AccessPointsJSON()
	if stale {
		t.Errorf("Expected a fresh list")
	}
	var got []status.AccessPoint
	if err := json.Unmarshal(doc, &got); err != nil {
		t.Fatalf("Invalid JSON %s: %v", doc, err)
	}
	want := []status.AccessPoint{
		{SSID: "Cafe", RSSI: -50, Auth: 3, Channel: 6},
		{SSID: "Library", RSSI: -80},
		{SSID: "Home", Known: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	ts.wifi.scanErr = errors.New("scan busy")
	ts.fire(fsm.NewEvent(fsm.EvScanDone))
	if again, _ := ts.n.AccessPointsJSON(); string(again) != string(doc) {
		t.Errorf("Expected the previous list kept, got %s", again)
	}
}
