package core

import (
	"strconv"
	"strings"
	"time"

	"network-service/internal/fsm"
	"network-service/internal/logger"
)

// Settings keys
const (
	SettingPollMax        = "network.pollmx"
	SettingPollMin        = "network.pollmin"
	SettingEthTimeout     = "network.ethtmout"
	SettingDHCPTimeout    = "network.dhcp_tmout"
	SettingEthBoot        = "network.eth_boot"
	SettingPrioritizeWifi = "network.prioritize_wifi"
	SettingHostname       = "network.host_name"
)

const (
	DefaultMaxRetry    = 2
	DefaultPollMin     = 15 * time.Second
	DefaultPollMax     = 600 * time.Second
	DefaultEthTimeout  = 30 * time.Second
	DefaultDHCPTimeout = 30 * time.Second
)

type Config struct {
	MaxRetry    int
	PollMin     time.Duration
	PollMax     time.Duration
	EthTimeout  time.Duration
	DHCPTimeout time.Duration

	QueueSize   int
	PostTimeout time.Duration

	// Recovery forces WiFi first, skipping Ethernet.
	Recovery bool

	ProjectName string
	Version     string
}

func DefaultConfig() Config {
	return Config{
		MaxRetry:    DefaultMaxRetry,
		PollMin:     DefaultPollMin,
		PollMax:     DefaultPollMax,
		EthTimeout:  DefaultEthTimeout,
		DHCPTimeout: DefaultDHCPTimeout,
		QueueSize:   fsm.DefaultQueueSize,
		PostTimeout: fsm.DefaultPostTimeout,
		ProjectName: "network-service",
	}
}

// ApplySettings overrides the timing values with the ones stored in the
// settings hash. Values are in seconds; missing or invalid entries keep
// the current value.
func (c *Config) ApplySettings(s SettingsStore, l *logger.Logger) {
	if s == nil {
		return
	}
	c.PollMax = secondsSetting(s, SettingPollMax, c.PollMax, l)
	c.PollMin = secondsSetting(s, SettingPollMin, c.PollMin, l)
	c.EthTimeout = secondsSetting(s, SettingEthTimeout, c.EthTimeout, l)
	c.DHCPTimeout = secondsSetting(s, SettingDHCPTimeout, c.DHCPTimeout, l)
	if c.PollMax < c.PollMin {
		l.Warnf("Poll ceiling %v below floor %v, using floor", c.PollMax, c.PollMin)
		c.PollMax = c.PollMin
	}
}

func secondsSetting(s SettingsStore, key string, def time.Duration, l *logger.Logger) time.Duration {
	raw, err := s.GetSetting(key)
	if err != nil {
		l.Warnf("Failed to read %s: %v", key, err)
		return def
	}
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		l.Warnf("Ignoring invalid %s=%q", key, raw)
		return def
	}
	l.Debugf("%s set to %ds", key, n)
	return time.Duration(n) * time.Second
}

// boolSetting treats "y", "yes", "true" and "1" as true.
func boolSetting(s SettingsStore, key string, def bool) bool {
	if s == nil {
		return def
	}
	raw, err := s.GetSetting(key)
	if err != nil || raw == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "true", "1":
		return true
	case "n", "no", "false", "0":
		return false
	}
	return def
}
