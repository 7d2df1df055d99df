// Package status maintains the JSON connectivity snapshot served to the
// web UI and mirrored to Redis.
//
// The snapshot is written only from the dispatcher goroutine and read
// from any number of HTTP or IPC goroutines. Readers wait a bounded time
// for the lock and fall back to the last completed snapshot when a write
// is in progress, so a reader never sees a half-built document.
package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"network-service/internal/logger"
)

// ReasonCode explains why the snapshot was last refreshed.
type ReasonCode int

const (
	ReasonOK ReasonCode = iota
	ReasonFailedAttempt
	ReasonUserDisconnect
	ReasonLostConnection
	ReasonFailedAttemptAndRestore
	ReasonEthernetConnected
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonFailedAttempt:
		return "failed-attempt"
	case ReasonUserDisconnect:
		return "user-disconnect"
	case ReasonLostConnection:
		return "lost-connection"
	case ReasonFailedAttemptAndRestore:
		return "failed-attempt-and-restore"
	case ReasonEthernetConnected:
		return "ethernet-connected"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Connectivity classes reported in the "if" field.
const (
	InterfaceNone = "none"
	InterfaceWifi = "wifi"
	InterfaceAP   = "ap"
	InterfaceEth  = "eth"
)

// Snapshot is the published document.
type Snapshot struct {
	Interface       string     `json:"if"`
	State           string     `json:"state"`
	SubState        string     `json:"sub_state"`
	SSID            string     `json:"ssid,omitempty"`
	RSSI            *int       `json:"rssi,omitempty"`
	IP              string     `json:"ip,omitempty"`
	Netmask         string     `json:"netmask,omitempty"`
	Gateway         string     `json:"gw,omitempty"`
	DisconnectCount int        `json:"disconnect_count"`
	AvgConnTime     float64    `json:"avg_conn_time"`
	EthUp           *bool      `json:"eth_up,omitempty"`
	Reason          ReasonCode `json:"urc"`
	UpdateCount     uint64     `json:"update_count"`
	Recovery        int        `json:"recovery"`
	Hostname        string     `json:"hostname,omitempty"`
	ProjectName     string     `json:"project_name,omitempty"`
	Version         string     `json:"version,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Info is what the manager knows at the time of an update.
type Info struct {
	Interface       string
	State           string
	SubState        string
	SSID            string
	RSSI            int
	HasRSSI         bool
	IP              string
	Netmask         string
	Gateway         string
	DisconnectCount int
	ConnectedTime   time.Duration
	EthEnabled      bool
	EthUp           bool
	Recovery        bool
	Hostname        string
}

// Sink receives every published document, e.g. a Redis hash.
type Sink interface {
	PublishStatus(payload []byte) error
}

const DefaultReadTimeout = 50 * time.Millisecond

type Options struct {
	ProjectName string
	Version     string
	ReadTimeout time.Duration
	Sink        Sink
}

type Publisher struct {
	mu      sync.RWMutex
	current Snapshot
	doc     []byte
	apDoc   []byte

	last   atomic.Pointer[[]byte]
	lastAP atomic.Pointer[[]byte]

	count       uint64
	readTimeout time.Duration
	opts        Options
	logger      *logger.Logger
}

func NewPublisher(opts Options, l *logger.Logger) *Publisher {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if l == nil {
		l = logger.Discard()
	}
	p := &Publisher{
		readTimeout: opts.ReadTimeout,
		opts:        opts,
		logger:      l,
	}
	p.current = Snapshot{
		Interface:   InterfaceNone,
		ProjectName: opts.ProjectName,
		Version:     opts.Version,
	}
	doc, _ := json.Marshal(p.current)
	p.doc = doc
	p.last.Store(&doc)
	empty := []byte("[]")
	p.apDoc = empty
	p.lastAP.Store(&empty)
	return p
}

// Update rebuilds the snapshot from info and forwards it to the sink.
func (p *Publisher) Update(reason ReasonCode, info Info) Snapshot {
	p.mu.Lock()
	p.count++
	s := Snapshot{
		Interface:       info.Interface,
		State:           info.State,
		SubState:        info.SubState,
		SSID:            info.SSID,
		IP:              info.IP,
		Netmask:         info.Netmask,
		Gateway:         info.Gateway,
		DisconnectCount: info.DisconnectCount,
		Reason:          reason,
		UpdateCount:     p.count,
		Hostname:        info.Hostname,
		ProjectName:     p.opts.ProjectName,
		Version:         p.opts.Version,
		UpdatedAt:       time.Now(),
	}
	if s.Interface == "" {
		s.Interface = InterfaceNone
	}
	if info.HasRSSI {
		rssi := info.RSSI
		s.RSSI = &rssi
	}
	if info.DisconnectCount > 0 {
		s.AvgConnTime = info.ConnectedTime.Seconds() / float64(info.DisconnectCount)
	}
	if info.EthEnabled {
		up := info.EthUp
		s.EthUp = &up
	}
	if info.Recovery {
		s.Recovery = 1
	}

	doc, err := json.Marshal(s)
	if err != nil {
		p.mu.Unlock()
		p.logger.Errorf("Failed to encode status: %v", err)
		return s
	}
	p.current = s
	p.doc = doc
	p.last.Store(&doc)
	p.mu.Unlock()

	p.logger.Debugf("Status updated (%s, #%d): %s", reason, s.UpdateCount, doc)
	if p.opts.Sink != nil {
		if err := p.opts.Sink.PublishStatus(doc); err != nil {
			p.logger.Warnf("Failed to publish status: %v", err)
		}
	}
	return s
}

// JSON returns the current document. When the writer holds the lock for
// longer than the read timeout the last completed document is returned
// and stale is true.
func (p *Publisher) JSON() (doc []byte, stale bool) {
	if p.rlock() {
		out := append([]byte(nil), p.doc...)
		p.mu.RUnlock()
		return out, false
	}
	p.logger.Debugf("Status lock busy, serving last snapshot")
	last := p.last.Load()
	return append([]byte(nil), (*last)...), true
}

// Snapshot returns a copy of the current snapshot, falling back to the
// last completed one on contention.
func (p *Publisher) Snapshot() Snapshot {
	if p.rlock() {
		s := p.current
		p.mu.RUnlock()
		return s.clone()
	}
	var s Snapshot
	last := p.last.Load()
	if err := json.Unmarshal(*last, &s); err != nil {
		p.logger.Errorf("Failed to decode cached status: %v", err)
	}
	return s
}

func (p *Publisher) UpdateCount() uint64 {
	return p.Snapshot().UpdateCount
}

func (p *Publisher) rlock() bool {
	if p.mu.TryRLock() {
		return true
	}
	deadline := time.Now().Add(p.readTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		if p.mu.TryRLock() {
			return true
		}
	}
	return false
}

func (s Snapshot) clone() Snapshot {
	if s.RSSI != nil {
		v := *s.RSSI
		s.RSSI = &v
	}
	if s.EthUp != nil {
		v := *s.EthUp
		s.EthUp = &v
	}
	return s
}
