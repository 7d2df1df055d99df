package status

import (
	"encoding/json"
)

// AccessPoint is one entry of the scan list shown by the portal. Known
// networks that were not seen in the last scan carry only SSID and Known.
type AccessPoint struct {
	SSID    string `json:"ssid"`
	Known   bool   `json:"known"`
	Channel int    `json:"chan,omitempty"`
	RSSI    int    `json:"rssi,omitempty"`
	Auth    int    `json:"auth,omitempty"`
}

// UniqueAccessPoints drops unnamed entries and merges entries sharing
// SSID and auth mode, keeping the strongest signal. First-seen order is
// preserved.
func UniqueAccessPoints(aps []AccessPoint) []AccessPoint {
	type key struct {
		ssid string
		auth int
	}
	out := make([]AccessPoint, 0, len(aps))
	index := make(map[key]int, len(aps))
	for _, ap := range aps {
		if ap.SSID == "" {
			continue
		}
		k := key{ap.SSID, ap.Auth}
		if i, ok := index[k]; ok {
			if ap.RSSI > out[i].RSSI {
				out[i].RSSI = ap.RSSI
			}
			continue
		}
		index[k] = len(out)
		out = append(out, ap)
	}
	return out
}

// SetAccessPoints replaces the scan list. The stored network is flagged
// as known and appended when it is out of range.
func (p *Publisher) SetAccessPoints(aps []AccessPoint, known string) []AccessPoint {
	list := UniqueAccessPoints(aps)
	seen := false
	for i := range list {
		if known != "" && list[i].SSID == known {
			list[i].Known = true
			seen = true
		}
	}
	if known != "" && !seen {
		list = append(list, AccessPoint{SSID: known, Known: true})
	}

	doc, err := json.Marshal(list)
	if err != nil {
		p.logger.Errorf("Failed to encode access point list: %v", err)
		return list
	}

	p.mu.Lock()
	p.apDoc = doc
	p.lastAP.Store(&doc)
	p.mu.Unlock()
	p.logger.Debugf("Access point list updated: %s", doc)
	return list
}

// AccessPointsJSON returns the scan list with the same stale-read rule as
// JSON.
func (p *Publisher) AccessPointsJSON() (doc []byte, stale bool) {
	if p.rlock() {
		out := append([]byte(nil), p.apDoc...)
		p.mu.RUnlock()
		return out, false
	}
	last := p.lastAP.Load()
	return append([]byte(nil), (*last)...), true
}
