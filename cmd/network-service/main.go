package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"network-service/internal/api"
	"network-service/internal/core"
	"network-service/internal/fsm"
	"network-service/internal/hardware"
	"network-service/internal/logger"
	"network-service/internal/messaging"
	"network-service/internal/registry"
)

var version = "dev"

func main() {
	// Service log level
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	redisHost := flag.String("redis-host", "127.0.0.1", "Redis host")
	redisPort := flag.Int("redis-port", 6379, "Redis port")
	maxRetry := flag.Int("max-retry", core.DefaultMaxRetry, "Immediate reconnect attempts before falling back")
	queueSize := flag.Int("queue-size", fsm.DefaultQueueSize, "Event queue capacity")
	postTimeout := flag.Duration("post-timeout", fsm.DefaultPostTimeout, "How long a producer waits for room in the event queue")
	httpAddr := flag.String("http", api.DefaultAddress, "Status API listen address (empty to disable)")
	ledChip := flag.Int("led-chip", hardware.DefaultLedChip, "GPIO chip of the status LED (-1 to disable)")
	ledLine := flag.Int("led-line", hardware.DefaultLedLine, "GPIO line of the status LED")
	recovery := flag.Bool("recovery", false, "Recovery boot: start WiFi first")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	// Create leveled logger
	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting network service %s...", version)

	redisClient := messaging.NewRedisClient(*redisHost, *redisPort, l.WithTag("redis"), messaging.Callbacks{})
	if err := redisClient.Connect(); err != nil {
		l.Fatalf("Failed to connect to Redis: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.MaxRetry = *maxRetry
	cfg.QueueSize = *queueSize
	cfg.PostTimeout = *postTimeout
	cfg.Recovery = *recovery
	cfg.Version = version

	system := hardware.NewSystem(redisClient, l.WithTag("system"))
	manager, err := core.NewNetworkManager(cfg, core.Deps{
		Wifi:           messaging.NewWifiDriver(redisClient),
		Ethernet:       messaging.NewEthernetDriver(redisClient),
		Creds:          redisClient,
		Settings:       redisClient,
		Rebooter:       system,
		Notifier:       redisClient,
		StatusSink:     redisClient,
		SystemHostname: hardware.Hostname,
	}, l)
	if err != nil {
		l.Fatalf("Failed to create network manager: %v", err)
	}

	var led *hardware.StatusLED
	if *ledChip >= 0 {
		out, err := hardware.OpenGpioOutput("status_led", *ledChip, *ledLine, l.WithTag("gpio"))
		if err != nil {
			l.Warnf("Status LED not available: %v", err)
		} else {
			defer out.Close()
			led = hardware.NewStatusLED(out, l.WithTag("led"))
		}
	}

	if err := registerCallbacks(manager, redisClient, led, l.WithTag("callbacks")); err != nil {
		l.Fatalf("Failed to register state callbacks: %v", err)
	}

	redisClient.SetCallbacks(messaging.Callbacks{
		ConnectCallback:       manager.HandleConnectCommand,
		DeleteCallback:        manager.HandleDeleteCommand,
		ScanCallback:          manager.HandleScanCommand,
		RebootCallback:        manager.HandleRebootCommand,
		RebootURLCallback:     manager.HandleRebootURLCommand,
		UpdateStatusCallback:  manager.HandleUpdateStatusCommand,
		WifiEventCallback:     manager.HandleWifiEvent,
		EthernetEventCallback: manager.HandleEthernetEvent,
	})

	// the start event must be queued ahead of any driver event
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := manager.Start(ctx); err != nil {
		l.Fatalf("Failed to start network manager: %v", err)
	}
	if err := redisClient.StartListening(); err != nil {
		l.Fatalf("Failed to start Redis listeners: %v", err)
	}

	var server *api.Server
	if *httpAddr != "" {
		server = api.NewServer(manager, api.ServerOptions{Addr: *httpAddr}, l.WithTag("api"))
		server.Start()
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)

	if server != nil {
		if err := server.Stop(context.Background()); err != nil {
			l.Warnf("HTTP shutdown: %v", err)
		}
	}
	manager.Shutdown()
	if led != nil {
		led.Close()
	}
	redisClient.Close()
	l.Infof("Shutdown complete")
}

const (
	portalCommandList = "captive-portal:command"
	mdnsCommandList   = "mdns:command"
)

// registerCallbacks hooks the LED, the captive portal, mDNS and the state
// mirror to state entries. Callbacks run on the dispatcher goroutine.
func registerCallbacks(m *core.NetworkManager, r *messaging.RedisClient, led *hardware.StatusLED, l *logger.Logger) error {
	type entry struct {
		root, sub fsm.StateID
		label     string
		fn        func(root, leaf fsm.StateID)
	}

	var entries []entry
	add := func(root, sub fsm.StateID, label string, fn func(root, leaf fsm.StateID)) {
		entries = append(entries, entry{root, sub, label, fn})
	}

	for _, root := range []fsm.StateID{
		fsm.StateInstantiated, fsm.StateInitializing, fsm.StateEthActive,
		fsm.StateWifiActive, fsm.StateWifiConfiguringActive,
	} {
		add(root, fsm.StateAny, "state mirror", func(root, leaf fsm.StateID) {
			r.PublishState(root, leaf)
		})
	}

	portalRunning := false
	add(fsm.StateWifiConfiguringActive, fsm.StateAny, "captive portal start", func(fsm.StateID, fsm.StateID) {
		if portalRunning {
			return
		}
		if err := r.SendCommand(portalCommandList, "start"); err == nil {
			portalRunning = true
		}
	})
	stopPortal := func(fsm.StateID, fsm.StateID) {
		if !portalRunning {
			return
		}
		if err := r.SendCommand(portalCommandList, "stop"); err == nil {
			portalRunning = false
		}
	}
	add(fsm.StateWifiActive, fsm.StateAny, "captive portal stop", stopPortal)
	add(fsm.StateEthActive, fsm.StateAny, "captive portal stop", stopPortal)

	announce := func(fsm.StateID, fsm.StateID) {
		r.SendCommand(mdnsCommandList, "hostname "+m.Hostname())
	}
	add(fsm.StateWifiActive, fsm.StateWifiConnected, "mdns", announce)
	add(fsm.StateEthActive, fsm.StateEthConnected, "mdns", announce)

	if led != nil {
		pattern := func(p hardware.Pattern) func(fsm.StateID, fsm.StateID) {
			return func(fsm.StateID, fsm.StateID) { led.SetPattern(p) }
		}
		add(fsm.StateWifiConfiguringActive, fsm.StateAny, "led", pattern(hardware.PatternBlinkFast))
		add(fsm.StateWifiActive, fsm.StateAny, "led", pattern(hardware.PatternBlinkSlow))
		add(fsm.StateWifiActive, fsm.StateWifiConnected, "led", pattern(hardware.PatternOn))
		add(fsm.StateEthActive, fsm.StateAny, "led", pattern(hardware.PatternBlinkSlow))
		add(fsm.StateEthActive, fsm.StateEthConnected, "led", pattern(hardware.PatternOn))
	}

	for _, e := range entries {
		if err := m.RegisterStateCallback(e.root, e.sub, e.label, registry.CallbackFunc(e.fn)); err != nil {
			return err
		}
	}
	l.Infof("Registered %d state callbacks", len(entries))
	return nil
}
