package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"network-service/internal/fsm"
	"network-service/internal/logger"
	"network-service/internal/registry"
	"network-service/internal/status"
)

// Interface is the network interface currently carrying traffic.
type Interface int

const (
	InterfaceNone Interface = iota
	InterfaceWifiSTA
	InterfaceWifiAP
	InterfaceEthernet
)

func (i Interface) String() string {
	switch i {
	case InterfaceWifiSTA:
		return "wifi-sta"
	case InterfaceWifiAP:
		return "wifi-ap"
	case InterfaceEthernet:
		return "ethernet"
	}
	return "none"
}

// Deps are the collaborators of the manager. Ethernet, Notifier and
// StatusSink may be nil.
type Deps struct {
	Wifi       WifiDriver
	Ethernet   EthernetDriver
	Creds      CredentialStore
	Settings   SettingsStore
	Rebooter   Rebooter
	Notifier   Notifier
	StatusSink status.Sink
	// SystemHostname is used when no hostname is configured.
	SystemHostname func() (string, error)
}

// NetworkManager owns the connectivity state machine and everything the
// state handlers act on.
type NetworkManager struct {
	cfg    Config
	deps   Deps
	logger *logger.Logger

	machine    *fsm.Machine
	dispatcher *fsm.Dispatcher
	timer      *fsm.Timer
	registry   *registry.Registry
	status     *status.Publisher
	retry      *RetryPolicy

	unhandledHook fsm.UnhandledFunc
	now           func() time.Time

	// mu guards the counters and flags below. They are written from the
	// dispatcher goroutine and read by Stats.
	mu             sync.Mutex
	numDisconnect  int
	totalConnected time.Duration
	lastConnected  time.Time
	wifiConnected  bool
	ethConnected   bool
	apMode         bool

	// Only touched from the dispatcher goroutine.
	wifiStarted bool
	active      fsm.Credentials
	hasActive   bool
	pending     fsm.Credentials
	lastReason  status.ReasonCode

	cancel  context.CancelFunc
	started bool
}

// Option tweaks a manager at construction time.
type Option func(*NetworkManager)

// WithUnhandledHook observes events that no state handled.
func WithUnhandledHook(fn fsm.UnhandledFunc) Option {
	return func(n *NetworkManager) { n.unhandledHook = fn }
}

// WithClock replaces time.Now for connected-time accounting.
func WithClock(now func() time.Time) Option {
	return func(n *NetworkManager) { n.now = now }
}

func NewNetworkManager(cfg Config, deps Deps, l *logger.Logger, opts ...Option) (*NetworkManager, error) {
	if deps.Wifi == nil {
		return nil, errors.New("wifi driver is required")
	}
	if deps.Creds == nil {
		return nil, errors.New("credential store is required")
	}
	if l == nil {
		l = logger.Discard()
	}

	n := &NetworkManager{
		cfg:    cfg,
		deps:   deps,
		logger: l.WithTag("network"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.retry = NewRetryPolicy(cfg.MaxRetry, cfg.PollMin, cfg.PollMax)
	n.registry = registry.New(l.WithTag("callbacks"))
	n.status = status.NewPublisher(status.Options{
		ProjectName: cfg.ProjectName,
		Version:     cfg.Version,
		Sink:        deps.StatusSink,
	}, l.WithTag("status"))
	n.dispatcher = fsm.NewDispatcher(cfg.QueueSize, cfg.PostTimeout, l.WithTag("dispatch"))
	n.timer = fsm.NewTimer(n.dispatcher.Post, l.WithTag("timer"))

	machine, err := n.definition().Build(
		fsm.WithLogger(l.WithTag("fsm")),
		fsm.WithTimer(n.timer),
		fsm.WithGlobalHandler(n.handleGlobal),
		fsm.WithSettledHook(n.onSettled),
		fsm.WithUnhandledObserver(n.onUnhandled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}
	n.machine = machine
	return n, nil
}

// Start enters the initial state, seals the callback registry and begins
// processing events.
func (n *NetworkManager) Start(ctx context.Context) error {
	if n.started {
		return nil
	}
	n.logger.Infof("Starting network manager")
	n.registry.Seal()

	if err := n.machine.Init(); err != nil {
		return fmt.Errorf("failed to enter initial state: %w", err)
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.dispatcher.Start(ctx, n.machine)
	n.started = true

	if err := n.PostEvent(fsm.NewEvent(fsm.EvStart)); err != nil {
		return fmt.Errorf("failed to post start event: %w", err)
	}
	return nil
}

func (n *NetworkManager) Shutdown() {
	n.logger.Infof("Shutting down network manager")
	n.timer.Stop()
	if n.cancel != nil {
		n.cancel()
	}
	n.dispatcher.Stop()
}

// PostEvent queues ev for the state machine.
func (n *NetworkManager) PostEvent(ev fsm.Event) error {
	return n.dispatcher.Post(ev)
}

// RegisterStateCallback subscribes cb to entries into (root, sub). It
// must be called before Start.
func (n *NetworkManager) RegisterStateCallback(root, sub fsm.StateID, label string, cb registry.StateCallback) error {
	return n.registry.Register(root, sub, label, cb)
}

func (n *NetworkManager) State() fsm.StateID {
	return n.machine.Current()
}

// ActiveInterface maps the current root onto the interface in use.
func (n *NetworkManager) ActiveInterface() Interface {
	switch n.machine.Root() {
	case fsm.StateEthActive:
		return InterfaceEthernet
	case fsm.StateWifiActive:
		return InterfaceWifiSTA
	case fsm.StateWifiConfiguringActive:
		return InterfaceWifiAP
	}
	return InterfaceNone
}

// Hostname returns the configured hostname, falling back to the kernel's.
func (n *NetworkManager) Hostname() string {
	if n.deps.Settings != nil {
		if h, err := n.deps.Settings.GetSetting(SettingHostname); err == nil && h != "" {
			return h
		}
	}
	if n.deps.SystemHostname != nil {
		if h, err := n.deps.SystemHostname(); err == nil && h != "" {
			return h
		}
	}
	return n.cfg.ProjectName
}

// Status exposes the snapshot publisher to readers such as the HTTP API.
func (n *NetworkManager) Status() *status.Publisher {
	return n.status
}

// StatusJSON returns the current status document; stale is set when a
// write was in progress and the previous document was served.
func (n *NetworkManager) StatusJSON() ([]byte, bool) {
	return n.status.JSON()
}

// AccessPointsJSON returns the list built from the last WiFi scan.
func (n *NetworkManager) AccessPointsJSON() ([]byte, bool) {
	return n.status.AccessPointsJSON()
}

// Stats is a point-in-time copy of the policy counters.
type Stats struct {
	State          fsm.StateID
	Retries        int
	PollInterval   time.Duration
	Disconnects    int
	ConnectedTime  time.Duration
	WifiConnected  bool
	EthConnected   bool
	APMode         bool
	Unhandled      uint64
	EventsHandled  uint64
	EventsDropped  uint64
	ActiveTimer    string
	ActiveTimerFor time.Duration
}

func (n *NetworkManager) Stats() Stats {
	n.mu.Lock()
	s := Stats{
		Disconnects:   n.numDisconnect,
		ConnectedTime: n.totalConnected,
		WifiConnected: n.wifiConnected,
		EthConnected:  n.ethConnected,
		APMode:        n.apMode,
	}
	n.mu.Unlock()
	s.State = n.machine.Current()
	s.Retries = n.retry.Retries()
	s.PollInterval = n.retry.Interval()
	s.Unhandled = n.machine.UnhandledCount()
	s.EventsHandled = n.dispatcher.Processed()
	s.EventsDropped = n.dispatcher.Dropped()
	s.ActiveTimer, s.ActiveTimerFor, _ = n.timer.Active()
	return s
}

// onSettled runs after every transition, so the published status always
// names the state the machine is in.
func (n *NetworkManager) onSettled(root, leaf fsm.StateID) {
	n.registry.Notify(root, leaf)
	n.refreshStatus()
}

func (n *NetworkManager) onUnhandled(info fsm.UnhandledEvent) {
	if n.unhandledHook != nil {
		n.unhandledHook(info)
	}
}

// post queues an event from inside a handler. A full queue at this point
// means the consumer cannot make progress, so it is only logged.
func (n *NetworkManager) post(ev fsm.Event) {
	if err := n.dispatcher.Post(ev); err != nil {
		n.logger.Errorf("Failed to post %s: %v", ev, err)
	}
}

func (n *NetworkManager) notify(level, text string) {
	if n.deps.Notifier == nil {
		return
	}
	if err := n.deps.Notifier.PostMessage(level, text); err != nil {
		n.logger.Warnf("Failed to post message %q: %v", text, err)
	}
}
