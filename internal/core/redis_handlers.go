package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"network-service/internal/fsm"
)

// ErrInvalidCredentials is returned for connect requests that are rejected
// before they reach the state machine.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidCommand is returned for malformed commands and driver events.
var ErrInvalidCommand = errors.New("invalid command")

const (
	maxSSIDLen     = 32
	maxPasswordLen = 64
)

// ValidateCredentials checks the limits of the 802.11 SSID and WPA
// passphrase.
func ValidateCredentials(c fsm.Credentials) error {
	if len(c.SSID) == 0 || len(c.SSID) > maxSSIDLen {
		return fmt.Errorf("%w: ssid must be 1..%d bytes, got %d", ErrInvalidCredentials, maxSSIDLen, len(c.SSID))
	}
	if len(c.Password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidCredentials, maxPasswordLen)
	}
	return nil
}

// HandleConnectCommand handles connect requests from Redis
func (n *NetworkManager) HandleConnectCommand(value string) error {
	var creds fsm.Credentials
	if err := json.Unmarshal([]byte(value), &creds); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if err := ValidateCredentials(creds); err != nil {
		n.notify(MessageError, fmt.Sprintf("Rejected network %q: %v", creds.SSID, err))
		return err
	}
	n.logger.Infof("Connect requested to %s", creds.SSID)
	return n.PostEvent(fsm.ConnectNewEvent(creds))
}

// HandleDeleteCommand handles requests to forget the stored network
func (n *NetworkManager) HandleDeleteCommand() error {
	n.logger.Infof("Delete of stored network requested")
	return n.PostEvent(fsm.NewEvent(fsm.EvDelete))
}

func (n *NetworkManager) HandleScanCommand() error {
	return n.PostEvent(fsm.NewEvent(fsm.EvScan))
}

func (n *NetworkManager) HandleRebootCommand(value string) error {
	kind, err := fsm.ParseRebootKind(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return n.PostEvent(fsm.RebootEvent(kind))
}

func (n *NetworkManager) HandleRebootURLCommand(url string) error {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%w: firmware url %q", ErrInvalidCommand, url)
	}
	return n.PostEvent(fsm.RebootURLEvent(url))
}

func (n *NetworkManager) HandleUpdateStatusCommand() error {
	return n.PostEvent(fsm.NewEvent(fsm.EvUpdateStatus))
}

// HandleWifiEvent translates a WiFi driver notification into an event.
func (n *NetworkManager) HandleWifiEvent(payload string) error {
	ev, err := ParseWifiEvent(payload)
	if err != nil {
		return err
	}
	return n.PostEvent(ev)
}

// HandleEthernetEvent translates an Ethernet driver notification into an
// event.
func (n *NetworkManager) HandleEthernetEvent(payload string) error {
	ev, err := ParseEthernetEvent(payload)
	if err != nil {
		return err
	}
	return n.PostEvent(ev)
}

// ParseWifiEvent parses "connected", "got-ip", "scan-done" and
// "lost-connection[:<reason>]".
func ParseWifiEvent(payload string) (fsm.Event, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(payload), ":")
	switch name {
	case "connected":
		return fsm.NewEvent(fsm.EvConnected), nil
	case "got-ip":
		return fsm.NewEvent(fsm.EvGotIP), nil
	case "scan-done":
		return fsm.NewEvent(fsm.EvScanDone), nil
	case "lost-connection":
		reason := fsm.ReasonUnspecified
		if arg != "" {
			r, err := strconv.Atoi(arg)
			if err != nil {
				return fsm.Event{}, fmt.Errorf("%w: disconnect reason %q: %v", ErrInvalidCommand, arg, err)
			}
			reason = r
		}
		return fsm.LostConnectionEvent(reason), nil
	}
	return fsm.Event{}, fmt.Errorf("%w: unknown wifi event %q", ErrInvalidCommand, payload)
}

// ParseEthernetEvent parses "link-up", "link-down" and "got-ip".
func ParseEthernetEvent(payload string) (fsm.Event, error) {
	switch strings.TrimSpace(payload) {
	case "link-up":
		return fsm.NewEvent(fsm.EvLinkUp), nil
	case "link-down":
		return fsm.NewEvent(fsm.EvLinkDown), nil
	case "got-ip":
		return fsm.NewEvent(fsm.EvEthGotIP), nil
	}
	return fsm.Event{}, fmt.Errorf("%w: unknown ethernet event %q", ErrInvalidCommand, payload)
}
