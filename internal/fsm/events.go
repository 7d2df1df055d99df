package fsm

import "fmt"

// EventID is the kind of an Event.
type EventID int

const (
	EvLinkUp EventID = iota
	EvLinkDown
	EvConfigure
	EvGotIP
	EvEthGotIP
	EvTimer
	EvStart
	EvScan
	EvScanDone
	EvFail
	EvSuccess
	EvConnected
	EvConnectNew
	EvLostConnection
	EvDelete
	EvEthernetFallback
	EvUpdateStatus
	EvReboot
	EvRebootURL
)

var eventNames = [...]string{
	EvLinkUp:           "link-up",
	EvLinkDown:         "link-down",
	EvConfigure:        "configure",
	EvGotIP:            "got-ip",
	EvEthGotIP:         "eth-got-ip",
	EvTimer:            "timer",
	EvStart:            "start",
	EvScan:             "scan",
	EvScanDone:         "scan-done",
	EvFail:             "fail",
	EvSuccess:          "success",
	EvConnected:        "connected",
	EvConnectNew:       "connect-new",
	EvLostConnection:   "lost-connection",
	EvDelete:           "delete",
	EvEthernetFallback: "ethernet-fallback",
	EvUpdateStatus:     "update-status",
	EvReboot:           "reboot",
	EvRebootURL:        "reboot-url",
}

func (e EventID) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// RebootKind selects what the device boots into after a Reboot event.
type RebootKind int

const (
	RebootOTA RebootKind = iota
	RebootRecovery
	RebootRestart
)

func (k RebootKind) String() string {
	switch k {
	case RebootOTA:
		return "ota"
	case RebootRecovery:
		return "recovery"
	case RebootRestart:
		return "restart"
	default:
		return fmt.Sprintf("reboot(%d)", int(k))
	}
}

// ParseRebootKind accepts the names produced by RebootKind.String.
func ParseRebootKind(s string) (RebootKind, error) {
	switch s {
	case "ota":
		return RebootOTA, nil
	case "recovery":
		return RebootRecovery, nil
	case "restart":
		return RebootRestart, nil
	}
	return 0, fmt.Errorf("unknown reboot kind %q", s)
}

// Disconnect reasons carried by LostConnection. Values follow the
// 802.11 reason codes reported by the station driver.
const (
	ReasonUnspecified   = 1
	ReasonAuthExpire    = 2
	ReasonAssocLeave    = 8
	ReasonBeaconTimeout = 200
	ReasonNoAPFound     = 201
	ReasonAuthFail      = 202
)

// Credentials identify a WiFi network.
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// Event is an immutable tagged value handed to the dispatcher.
type Event struct {
	ID EventID

	Credentials Credentials // EvConnectNew
	Reason      int         // EvLostConnection
	Reboot      RebootKind  // EvReboot
	URL         string      // EvRebootURL
	Tag         string      // EvTimer
}

// NewEvent creates a payload-less event.
func NewEvent(id EventID) Event {
	return Event{ID: id}
}

func ConnectNewEvent(c Credentials) Event {
	return Event{ID: EvConnectNew, Credentials: c}
}

func LostConnectionEvent(reason int) Event {
	return Event{ID: EvLostConnection, Reason: reason}
}

func RebootEvent(kind RebootKind) Event {
	return Event{ID: EvReboot, Reboot: kind}
}

func RebootURLEvent(url string) Event {
	return Event{ID: EvRebootURL, URL: url}
}

func TimerEvent(tag string) Event {
	return Event{ID: EvTimer, Tag: tag}
}

func (e Event) String() string {
	switch e.ID {
	case EvConnectNew:
		return fmt.Sprintf("%s(%s)", e.ID, e.Credentials.SSID)
	case EvLostConnection:
		return fmt.Sprintf("%s(%d)", e.ID, e.Reason)
	case EvReboot:
		return fmt.Sprintf("%s(%s)", e.ID, e.Reboot)
	case EvRebootURL:
		return fmt.Sprintf("%s(%s)", e.ID, e.URL)
	case EvTimer:
		return fmt.Sprintf("%s(%s)", e.ID, e.Tag)
	}
	return e.ID.String()
}
