package core

import (
	"network-service/internal/fsm"
)

// definition wires every state to its handlers.
func (n *NetworkManager) definition() *fsm.Definition {
	return fsm.NewDefinition().
		State(fsm.StateInstantiated,
			fsm.WithOnEnter(n.enterInstantiated),
			fsm.WithOnEvent(n.handleInstantiated),
		).
		State(fsm.StateInitializing,
			fsm.WithOnEnter(n.enterInitializing),
			fsm.WithOnEvent(n.handleInitializing),
		).

		// Ethernet
		State(fsm.StateEthActive,
			fsm.WithOnEnter(n.enterEthActive),
			fsm.WithOnEvent(n.handleEthActive),
		).
		State(fsm.StateEthStarting,
			fsm.WithOnEnter(n.enterEthStarting),
			fsm.WithOnEvent(n.handleEthStarting),
		).
		State(fsm.StateEthConnectingNew,
			fsm.WithOnEnter(n.enterEthConnectingNew),
			fsm.WithOnEvent(n.handleEthConnectingNew),
		).
		State(fsm.StateEthLinkUp,
			fsm.WithOnEnter(n.enterEthLinkUp),
		).
		State(fsm.StateEthLinkDown,
			fsm.WithOnEnter(n.enterEthLinkDown),
		).
		State(fsm.StateEthConnected,
			fsm.WithOnEnter(n.enterEthConnected),
			fsm.WithOnExit(n.exitEthConnected),
			fsm.WithOnEvent(n.handleEthConnected),
		).

		// WiFi station
		State(fsm.StateWifiActive,
			fsm.WithOnEvent(n.handleWifiActive),
		).
		State(fsm.StateWifiInitializing,
			fsm.WithOnEnter(n.enterWifiInitializing),
			fsm.WithOnEvent(n.handleWifiInitializing),
		).
		State(fsm.StateWifiConnecting,
			fsm.WithOnEnter(n.enterWifiConnecting),
			fsm.WithOnEvent(n.handleWifiConnecting),
		).
		State(fsm.StateWifiConnectingNew,
			fsm.WithOnEnter(n.enterWifiConnectingNew),
			fsm.WithOnEvent(n.handleWifiConnectingNew),
		).
		State(fsm.StateWifiConnectingNewFailed,
			fsm.WithOnEnter(n.enterWifiConnectingNewFailed),
			fsm.WithOnEvent(n.handleWifiConnectingNewFailed),
		).
		State(fsm.StateWifiConnected,
			fsm.WithOnEnter(n.enterWifiConnected),
			fsm.WithOnExit(n.exitWifiConnected),
			fsm.WithOnEvent(n.handleWifiConnected),
		).
		State(fsm.StateWifiUserDisconnected,
			fsm.WithOnEnter(n.enterWifiUserDisconnected),
			fsm.WithOnEvent(n.handleWifiUserDisconnected),
		).
		State(fsm.StateWifiLostConnection,
			fsm.WithOnEnter(n.enterWifiLostConnection),
			fsm.WithOnEvent(n.handleWifiLostConnection),
		).

		// Access point / captive portal
		State(fsm.StateWifiConfiguringActive,
			fsm.WithOnEnter(n.enterWifiConfiguringActive),
			fsm.WithOnExit(n.exitWifiConfiguringActive),
			fsm.WithOnEvent(n.handleWifiConfiguringActive),
		).
		State(fsm.StateWifiConfiguring,
			fsm.WithOnEnter(n.enterWifiConfiguring),
			fsm.WithOnEvent(n.handleWifiConfiguring),
		).
		State(fsm.StateWifiConfiguringConnect,
			fsm.WithOnEnter(n.enterWifiConfiguringConnect),
			fsm.WithOnEvent(n.handleWifiConfiguringConnect),
		).
		State(fsm.StateWifiConfiguringConnectSuccess,
			fsm.WithOnEnter(n.enterWifiConfiguringConnectSuccess),
			fsm.WithOnEvent(n.handleWifiConfiguringConnectSuccess),
			fsm.WithLocalEvents(fsm.EvUpdateStatus),
		).
		State(fsm.StateWifiConfiguringConnectSuccessGotoSta,
			fsm.WithOnEvent(n.handleWifiConfiguringConnectSuccessGotoSta),
			fsm.WithLocalEvents(fsm.EvUpdateStatus),
		).
		Initial(fsm.StateInstantiated)
}

func (n *NetworkManager) traverse(target fsm.StateID) fsm.Result {
	if err := n.machine.Traverse(target); err != nil {
		n.logger.Errorf("Traverse to %s failed: %v", target, err)
	}
	return fsm.Handled
}

func (n *NetworkManager) switchTo(target fsm.StateID) fsm.Result {
	if err := n.machine.Switch(target); err != nil {
		n.logger.Errorf("Switch to %s failed: %v", target, err)
	}
	return fsm.Handled
}
