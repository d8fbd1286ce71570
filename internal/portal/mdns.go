package portal

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_canairio._tcp"
	mdnsDomain      = "local."
)

// startMDNS must be called with s.mu held.
func (s *Server) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	s.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "canairio"
	}

	instance := sanitizeMDNSInstance(s.settings.SSID)
	txt := []string{
		fmt.Sprintf("ssid=%s", s.settings.SSID),
		fmt.Sprintf("host=%s.local", sanitizeMDNSHost(hostname)),
		"path=/",
		"proto=v1",
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return err
	}

	s.mdns = server
	s.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (s *Server) stopMDNS() {
	if s.mdns == nil {
		return
	}

	s.mdns.Shutdown()
	s.logger.Info("mDNS advertisement stopped")
	s.mdns = nil
}

func sanitizeMDNSInstance(name string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ", "!", "")
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" {
		cleaned = "CanAirIO Config"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

func sanitizeMDNSHost(name string) string {
	cleaned := strings.TrimSpace(strings.ToLower(name))
	replacer := strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		cleaned = "canairio"
	}
	// host labels must be <=63 characters
	runes := []rune(cleaned)
	if len(runes) > 63 {
		cleaned = string(runes[:63])
	}
	return cleaned
}
