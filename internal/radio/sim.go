package radio

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"canairio/station-agent/internal/model"
)

var (
	errNoCredentials  = errors.New("no saved network")
	errUnknownNetwork = errors.New("network not in range")
	errWrongPassword  = errors.New("authentication failed")
)

// Sim is an in-memory radio. With no networks configured every saved
// network is reachable.
type Sim struct {
	*Credentials

	hw       net.HardwareAddr
	networks map[string]string
	delay    time.Duration

	mu       sync.Mutex
	status   model.LinkStatus
	apSSID   string
	apActive bool
}

// NewSim builds a simulator whose station link starts down. networks maps
// SSIDs in range to their passwords.
func NewSim(creds *Credentials, hw net.HardwareAddr, networks map[string]string, connectDelay time.Duration) *Sim {
	if creds == nil {
		creds = &Credentials{}
	}
	return &Sim{
		Credentials: creds,
		hw:          hw,
		networks:    networks,
		delay:       connectDelay,
	}
}

// Connect associates with the saved network after the configured delay.
func (s *Sim) Connect(ctx context.Context) error {
	creds, ok := s.Get()
	if !ok {
		return errNoCredentials
	}

	s.setStatus(model.LinkAssociating)
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			s.setStatus(model.LinkDown)
			return ctx.Err()
		}
	}

	if s.networks != nil {
		pass, inRange := s.networks[creds.SSID]
		if !inRange {
			s.setStatus(model.LinkDown)
			return errUnknownNetwork
		}
		if pass != creds.Password {
			s.setStatus(model.LinkDown)
			return errWrongPassword
		}
	}

	s.setStatus(model.LinkUp)
	return nil
}

// Drop takes the station link down, as if the access point went away.
func (s *Sim) Drop() {
	s.setStatus(model.LinkDown)
}

// Status returns the simulated link state.
func (s *Sim) Status() model.LinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StartAccessPoint records ssid as the served network.
func (s *Sim) StartAccessPoint(ssid, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apSSID, s.apActive = ssid, true
	return nil
}

// StopAccessPoint tears the simulated access point down.
func (s *Sim) StopAccessPoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apActive = false
	return nil
}

// AccessPoint reports the SSID served while the access point is up.
func (s *Sim) AccessPoint() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apSSID, s.apActive
}

// HardwareAddr returns the configured MAC address.
func (s *Sim) HardwareAddr() net.HardwareAddr {
	return s.hw
}

// Info describes the simulated link.
func (s *Sim) Info() model.NetInfo {
	creds, _ := s.Get()
	return model.NetInfo{
		IP:      "192.0.2.10",
		SSID:    creds.SSID,
		Gateway: "192.0.2.1",
		MAC:     s.hw.String(),
		RSSI:    -58,
	}
}

func (s *Sim) setStatus(status model.LinkStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}
