// Package radio provides the Wi-Fi radio implementations used by the
// station: the host network interface and an in-memory simulator.
package radio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/store"
)

// CredentialsFile holds the saved network next to the configuration record.
const CredentialsFile = "/wifi.json"

// Credentials keeps the saved network in memory and, when storage is set,
// on disk.
type Credentials struct {
	storage store.Storage

	mu    sync.RWMutex
	creds *model.Credentials
}

// LoadCredentials reads the saved network. A missing file means none saved.
func LoadCredentials(ctx context.Context, storage store.Storage) (*Credentials, error) {
	c := &Credentials{storage: storage}
	if storage == nil {
		return c, nil
	}

	data, err := storage.ReadFile(ctx, CredentialsFile)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read %s: %w", CredentialsFile, err)
	}

	var creds model.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return c, fmt.Errorf("decode %s: %w", CredentialsFile, err)
	}
	if creds.SSID != "" {
		c.creds = &creds
	}
	return c, nil
}

// HasCredentials reports whether a network has been saved.
func (c *Credentials) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds != nil
}

// Get returns the saved network.
func (c *Credentials) Get() (model.Credentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.creds == nil {
		return model.Credentials{}, false
	}
	return *c.creds, true
}

// SetCredentials saves creds, replacing the previous network.
func (c *Credentials) SetCredentials(creds model.Credentials) error {
	if creds.SSID == "" {
		return errors.New("empty ssid")
	}

	if c.storage != nil {
		data, err := json.Marshal(creds)
		if err != nil {
			return fmt.Errorf("encode credentials: %w", err)
		}
		if err := c.storage.WriteFile(context.Background(), CredentialsFile, data); err != nil {
			return fmt.Errorf("write %s: %w", CredentialsFile, err)
		}
	}

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()
	return nil
}
