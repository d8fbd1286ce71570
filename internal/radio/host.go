package radio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"canairio/station-agent/internal/model"
)

const linkPollInterval = 500 * time.Millisecond

// Host watches a network interface of the machine the agent runs on.
// Association and the access point itself are left to the system network
// manager; Host records the saved network and waits for the link.
type Host struct {
	*Credentials

	name   string
	logger *slog.Logger

	mu       sync.Mutex
	apActive bool
}

// NewHost binds to the interface called name.
func NewHost(creds *Credentials, name string, logger *slog.Logger) (*Host, error) {
	if _, err := net.InterfaceByName(name); err != nil {
		return nil, fmt.Errorf("interface %s: %w", name, err)
	}
	if creds == nil {
		creds = &Credentials{}
	}
	return &Host{Credentials: creds, name: name, logger: logger}, nil
}

// Status is up once the interface is running with a routable IPv4 address.
func (h *Host) Status() model.LinkStatus {
	iface, err := net.InterfaceByName(h.name)
	if err != nil || iface.Flags&net.FlagUp == 0 {
		return model.LinkDown
	}
	if iface.Flags&net.FlagRunning == 0 {
		return model.LinkAssociating
	}
	if ip := h.ipv4(iface); ip == nil {
		return model.LinkAssociating
	}
	return model.LinkUp
}

// Connect waits for the link to come up.
func (h *Host) Connect(ctx context.Context) error {
	creds, ok := h.Get()
	if !ok {
		return errNoCredentials
	}
	h.logger.Info("waiting for wifi link", "interface", h.name, "ssid", creds.SSID)

	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()
	for {
		if h.Status() == model.LinkUp {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("link %s: %w", h.name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// StartAccessPoint records and logs the request; the system network manager
// hosts the access point.
func (h *Host) StartAccessPoint(ssid, passphrase string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.apActive = true
	h.logger.Info("access point requested", "interface", h.name, "ssid", ssid, "secured", passphrase != "")
	return nil
}

// StopAccessPoint records and logs the release.
func (h *Host) StopAccessPoint() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.apActive {
		h.logger.Info("access point released", "interface", h.name)
	}
	h.apActive = false
	return nil
}

// HardwareAddr returns the interface MAC address, or nil when the interface is gone.
func (h *Host) HardwareAddr() net.HardwareAddr {
	iface, err := net.InterfaceByName(h.name)
	if err != nil {
		return nil
	}
	return iface.HardwareAddr
}

// Info reports the interface address. Gateway and RSSI are not exposed by
// the standard library and stay empty.
func (h *Host) Info() model.NetInfo {
	info := model.NetInfo{}
	if creds, ok := h.Get(); ok {
		info.SSID = creds.SSID
	}
	iface, err := net.InterfaceByName(h.name)
	if err != nil {
		return info
	}
	info.MAC = iface.HardwareAddr.String()
	if ip := h.ipv4(iface); ip != nil {
		info.IP = ip.String()
	}
	return info
}

func (h *Host) ipv4(iface *net.Interface) net.IP {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil && !ip.IsLinkLocalUnicast() {
			return ip
		}
	}
	return nil
}
