// Package identity derives the station's telemetry tags from its hardware address.
package identity

import (
	"fmt"
	"net"
	"strings"

	"canairio/station-agent/internal/model"
)

const (
	locationPrefixLen = 3
	flavorLen         = 7
	suffixLen         = 4
)

// DeviceID formats hw as six colon-separated upper-case hex pairs. offset is
// added to the last byte, mapping the base address to the station interface.
func DeviceID(hw net.HardwareAddr, offset byte) (string, error) {
	if len(hw) != 6 {
		return "", fmt.Errorf("hardware address %q: want 6 bytes, got %d", hw.String(), len(hw))
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", hw[0], hw[1], hw[2], hw[3], hw[4], hw[5]+offset), nil
}

// StationName builds the short station tag: an optional 3-character location
// prefix, an optional firmware flavor cut to 7 characters, then the last 4
// characters of deviceID without separators, upper-cased.
func StationName(cfg model.Config, deviceID, flavor string) string {
	var b strings.Builder

	if cfg.LocationTag != "" {
		b.WriteString(head(cfg.LocationTag, locationPrefixLen))
	}
	if flavor != "" {
		b.WriteString(head(flavor, flavorLen))
	}

	id := stripSeparators(deviceID)
	if len(id) > suffixLen {
		id = id[len(id)-suffixLen:]
	}
	b.WriteString(id)

	return strings.ToUpper(stripSeparators(b.String()))
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func stripSeparators(s string) string {
	return strings.NewReplacer(":", "", "_", "", "-", "").Replace(s)
}
