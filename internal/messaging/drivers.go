package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"

	"network-service/internal/core"
	"network-service/internal/fsm"
	"network-service/internal/status"
)

// Driver command lists. The interface daemons pop commands from these and
// report results on the "wifi" and "ethernet" channels, keeping their
// current link and address in the hashes of the same name.
const (
	KeyWifiCommand     = "wifi:command"
	KeyEthernetCommand = "ethernet:command"

	// KeyWifiScan holds one JSON record per access point found by the
	// last scan. The daemon replaces it before publishing scan-done.
	KeyWifiScan = "wifi:scan"
)

// WifiDriver drives the WiFi daemon over Redis.
type WifiDriver struct {
	redis *RedisClient
}

func NewWifiDriver(r *RedisClient) *WifiDriver {
	return &WifiDriver{redis: r}
}

func (w *WifiDriver) Start() error {
	return w.redis.SendCommand(KeyWifiCommand, "start")
}

func (w *WifiDriver) Connect(creds fsm.Credentials) error {
	return w.redis.SendJSONCommand(KeyWifiCommand, "connect", creds)
}

func (w *WifiDriver) Disconnect() error {
	return w.redis.SendCommand(KeyWifiCommand, "disconnect")
}

func (w *WifiDriver) StartScan() error {
	return w.redis.SendCommand(KeyWifiCommand, "scan")
}

func (w *WifiDriver) ScanResults() ([]status.AccessPoint, error) {
	records, err := w.redis.GetList(KeyWifiScan)
	if err != nil {
		return nil, err
	}
	aps := make([]status.AccessPoint, 0, len(records))
	for _, rec := range records {
		var ap status.AccessPoint
		if err := json.Unmarshal([]byte(rec), &ap); err != nil {
			w.redis.logger.Warnf("Skipping invalid scan record %q: %v", rec, err)
			continue
		}
		aps = append(aps, ap)
	}
	return aps, nil
}

func (w *WifiDriver) StartAP() error {
	return w.redis.SendCommand(KeyWifiCommand, "ap-start")
}

func (w *WifiDriver) StopAP() error {
	return w.redis.SendCommand(KeyWifiCommand, "ap-stop")
}

func (w *WifiDriver) LinkStatus() core.LinkStatus {
	return linkStatus(w.redis, HashWifi)
}

func (w *WifiDriver) IPInfo() (core.IPInfo, bool) {
	return ipInfo(w.redis, HashWifi)
}

// APInfo returns the SSID and signal strength of the associated access
// point.
func (w *WifiDriver) APInfo() (string, int, bool) {
	values, err := w.redis.GetHash(HashWifi)
	if err != nil {
		w.redis.logger.Warnf("Failed to read WiFi state: %v", err)
		return "", 0, false
	}
	ssid := values["ssid"]
	if ssid == "" {
		return "", 0, false
	}
	rssi, err := strconv.Atoi(values["rssi"])
	if err != nil {
		return ssid, 0, false
	}
	return ssid, rssi, true
}

// EthernetDriver drives the Ethernet daemon over Redis.
type EthernetDriver struct {
	redis *RedisClient
}

func NewEthernetDriver(r *RedisClient) *EthernetDriver {
	return &EthernetDriver{redis: r}
}

// Start brings the interface up. Boards without a PHY report
// present=false in the ethernet hash.
func (e *EthernetDriver) Start() error {
	present, err := e.redis.GetHashField(HashEthernet, "present")
	if err != nil {
		return err
	}
	if present != "true" {
		return fmt.Errorf("%w: present=%q", core.ErrEthernetDisabled, present)
	}
	return e.redis.SendCommand(KeyEthernetCommand, "start")
}

func (e *EthernetDriver) LinkStatus() core.LinkStatus {
	return linkStatus(e.redis, HashEthernet)
}

func (e *EthernetDriver) IPInfo() (core.IPInfo, bool) {
	return ipInfo(e.redis, HashEthernet)
}

func linkStatus(r *RedisClient, hash string) core.LinkStatus {
	link, err := r.GetHashField(hash, "link")
	if err != nil {
		r.logger.Warnf("Failed to read %s link: %v", hash, err)
		return core.LinkDown
	}
	if link == "up" {
		return core.LinkUp
	}
	return core.LinkDown
}

func ipInfo(r *RedisClient, hash string) (core.IPInfo, bool) {
	values, err := r.GetHash(hash)
	if err != nil {
		r.logger.Warnf("Failed to read %s address: %v", hash, err)
		return core.IPInfo{}, false
	}
	ip := values["ip"]
	if ip == "" || ip == "0.0.0.0" {
		return core.IPInfo{}, false
	}
	return core.IPInfo{IP: ip, Netmask: values["netmask"], Gateway: values["gw"]}, true
}
