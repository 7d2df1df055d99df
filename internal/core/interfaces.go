package core

import (
	"errors"

	"network-service/internal/fsm"
	"network-service/internal/status"
)

// ErrEthernetDisabled is returned by EthernetDriver.Start when the board
// has no usable Ethernet interface.
var ErrEthernetDisabled = errors.New("ethernet disabled")

type LinkStatus int

const (
	LinkDown LinkStatus = iota
	LinkUp
)

func (l LinkStatus) String() string {
	if l == LinkUp {
		return "up"
	}
	return "down"
}

// IPInfo is the IPv4 configuration of an interface.
type IPInfo struct {
	IP      string
	Netmask string
	Gateway string
}

// WifiDriver controls the WiFi station and access point. Results of
// Connect and StartScan arrive later as events.
type WifiDriver interface {
	Start() error
	Connect(creds fsm.Credentials) error
	Disconnect() error
	StartScan() error
	// ScanResults returns the access points found by the last scan.
	ScanResults() ([]status.AccessPoint, error)
	LinkStatus() LinkStatus
	IPInfo() (IPInfo, bool)
	APInfo() (ssid string, rssi int, ok bool)
	StartAP() error
	StopAP() error
}

// EthernetDriver controls the wired interface.
type EthernetDriver interface {
	Start() error
	LinkStatus() LinkStatus
	IPInfo() (IPInfo, bool)
}

// CredentialStore persists the station credentials.
type CredentialStore interface {
	LoadCredentials() (fsm.Credentials, bool, error)
	SaveCredentials(creds fsm.Credentials) error
	ClearCredentials() error
}

// SettingsStore is the key/value configuration shared with other services.
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Rebooter resets the device.
type Rebooter interface {
	Reboot(kind fsm.RebootKind) error
	RebootToURL(url string) error
}

// Message levels for Notifier.
const (
	MessageInfo    = "info"
	MessageWarning = "warning"
	MessageError   = "error"
)

// Notifier shows messages to the user, e.g. in the web UI.
type Notifier interface {
	PostMessage(level, text string) error
}
