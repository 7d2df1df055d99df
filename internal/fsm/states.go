package fsm

import "fmt"

// StateID identifies a root state or a leaf sub-state.
type StateID int

// Root states
const (
	StateNone StateID = iota
	StateInstantiated
	StateInitializing
	StateEthActive
	StateWifiActive
	StateWifiConfiguringActive

	// Ethernet sub-states
	StateEthStarting
	StateEthConnectingNew
	StateEthLinkUp
	StateEthLinkDown
	StateEthConnected

	// WiFi station sub-states
	StateWifiInitializing
	StateWifiConnecting
	StateWifiConnectingNew
	StateWifiConnectingNewFailed
	StateWifiConnected
	StateWifiUserDisconnected
	StateWifiLostConnection

	// Access point (captive portal) sub-states
	StateWifiConfiguring
	StateWifiConfiguringConnect
	StateWifiConfiguringConnectSuccess
	StateWifiConfiguringConnectSuccessGotoSta

	stateCount
)

// StateAny matches every leaf of a root when registering callbacks.
const StateAny StateID = -1

var stateNames = map[StateID]string{
	StateNone:                                 "none",
	StateInstantiated:                         "instantiated",
	StateInitializing:                         "initializing",
	StateEthActive:                            "eth-active",
	StateWifiActive:                           "wifi-active",
	StateWifiConfiguringActive:                "wifi-configuring-active",
	StateEthStarting:                          "eth-starting",
	StateEthConnectingNew:                     "eth-connecting-new",
	StateEthLinkUp:                            "eth-link-up",
	StateEthLinkDown:                          "eth-link-down",
	StateEthConnected:                         "eth-connected",
	StateWifiInitializing:                     "wifi-initializing",
	StateWifiConnecting:                       "wifi-connecting",
	StateWifiConnectingNew:                    "wifi-connecting-new",
	StateWifiConnectingNewFailed:              "wifi-connecting-new-failed",
	StateWifiConnected:                        "wifi-connected",
	StateWifiUserDisconnected:                 "wifi-user-disconnected",
	StateWifiLostConnection:                   "wifi-lost-connection",
	StateWifiConfiguring:                      "wifi-configuring",
	StateWifiConfiguringConnect:               "wifi-configuring-connect",
	StateWifiConfiguringConnectSuccess:        "wifi-configuring-connect-success",
	StateWifiConfiguringConnectSuccessGotoSta: "wifi-configuring-connect-success-goto-sta",
	StateAny:                                  "any",
}

func (s StateID) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// parents is the static two-level tree. Roots map to StateNone.
var parents = map[StateID]StateID{
	StateInstantiated:          StateNone,
	StateInitializing:          StateNone,
	StateEthActive:             StateNone,
	StateWifiActive:            StateNone,
	StateWifiConfiguringActive: StateNone,

	StateEthStarting:      StateEthActive,
	StateEthConnectingNew: StateEthActive,
	StateEthLinkUp:        StateEthActive,
	StateEthLinkDown:      StateEthActive,
	StateEthConnected:     StateEthActive,

	StateWifiInitializing:        StateWifiActive,
	StateWifiConnecting:          StateWifiActive,
	StateWifiConnectingNew:       StateWifiActive,
	StateWifiConnectingNewFailed: StateWifiActive,
	StateWifiConnected:           StateWifiActive,
	StateWifiUserDisconnected:    StateWifiActive,
	StateWifiLostConnection:      StateWifiActive,

	StateWifiConfiguring:                      StateWifiConfiguringActive,
	StateWifiConfiguringConnect:               StateWifiConfiguringActive,
	StateWifiConfiguringConnectSuccess:        StateWifiConfiguringActive,
	StateWifiConfiguringConnectSuccessGotoSta: StateWifiConfiguringActive,
}

// Known reports whether s is part of the state tree.
func (s StateID) Known() bool {
	_, ok := parents[s]
	return ok
}

// IsRoot reports whether s sits at the top of the tree.
func (s StateID) IsRoot() bool {
	p, ok := parents[s]
	return ok && p == StateNone
}

// Parent returns the root of a leaf, or StateNone for a root.
func (s StateID) Parent() StateID {
	return parents[s]
}

// Root returns s itself for a root state and its parent for a leaf.
func (s StateID) Root() StateID {
	if p := parents[s]; p != StateNone {
		return p
	}
	return s
}

// Leaves lists the sub-states of root in declaration order.
func Leaves(root StateID) []StateID {
	var out []StateID
	for s := StateNone + 1; s < stateCount; s++ {
		if parents[s] == root && s != root {
			out = append(out, s)
		}
	}
	return out
}

// Timer tags
const (
	TimerWifiPolling     = "Wifi Polling timeout"
	TimerEthLinkNotFound = "Ethernet link not detected"
	TimerEthLinkDown     = "Ethernet link down"
	TimerDHCP            = "DHCP timeout"
)
