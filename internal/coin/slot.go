package coin

import (
	"sync"
	"time"
)

// Slot tracks which device currently owns the coin acceptor. A portal client
// claims the slot before feeding coins; the claim expires on its own so an
// abandoned claim never captures the next customer's money.
type Slot struct {
	mu       sync.Mutex
	mac      string
	ip       string
	deviceID string
	until    time.Time
	ttl      time.Duration
}

// NewSlot creates a slot tracker with the given claim TTL
func NewSlot(ttl time.Duration) *Slot {
	return &Slot{ttl: ttl}
}

// Claim binds the slot to a device until the TTL elapses. A newer claim
// simply replaces the old one; only one device feeds the physical slot at a
// time anyway.
func (s *Slot) Claim(mac, ip, deviceID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mac = mac
	s.ip = ip
	s.deviceID = deviceID
	s.until = time.Now().Add(s.ttl)
	return s.until
}

// Current returns the claiming device, if the claim is still live
func (s *Slot) Current() (mac, ip, deviceID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mac == "" || time.Now().After(s.until) {
		return "", "", "", false
	}
	return s.mac, s.ip, s.deviceID, true
}

// Release drops the claim if held by the given MAC
func (s *Slot) Release(mac string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mac == mac {
		s.mac = ""
		s.ip = ""
		s.deviceID = ""
		s.until = time.Time{}
	}
}
