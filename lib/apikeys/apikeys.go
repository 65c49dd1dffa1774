// Package apikeys stores third-party API keys (ITAD and friends) in the
// OS keyring, falling back to a plain config file on platforms without
// a secret service.
package apikeys

import (
	"fmt"
	"log/slog"
	"strings"

	"legionlaunch/lib/configutil"

	"github.com/zalando/go-keyring"
)

const keyringService = "legionlaunch"

type fileKeys struct {
	ApiKeys map[string]string `json:"api_keys"`
}

type Keys struct {
	// FallbackPath is the config file used when the OS keyring is
	// unavailable, e.g. ~/.config/legionlaunch/keys.json
	FallbackPath string
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Set stores a key under the given service name ("ITAD", "IGDB", ...).
func (k Keys) Set(name, value string) error {
	name = normalize(name)
	if name == "" || value == "" {
		return fmt.Errorf("api key requires a service name and a value")
	}

	err := keyring.Set(keyringService, name, value)
	if err == nil {
		return nil
	}
	slog.Warn("keyring unavailable, falling back to config file", "err", err)

	keys, readErr := configutil.ReadConfig[fileKeys](k.FallbackPath)
	if readErr != nil {
		keys = fileKeys{}
	}
	if keys.ApiKeys == nil {
		keys.ApiKeys = map[string]string{}
	}
	keys.ApiKeys[name] = value
	return configutil.WriteConfig(k.FallbackPath, keys)
}

// Get returns the key for the service name, reporting absence
// explicitly.
func (k Keys) Get(name string) (string, bool, error) {
	name = normalize(name)

	value, err := keyring.Get(keyringService, name)
	if err == nil && value != "" {
		return value, true, nil
	}
	if err != nil && err != keyring.ErrNotFound {
		slog.Debug("keyring lookup failed, trying config file", "err", err)
	}

	keys, err := configutil.ReadConfig[fileKeys](k.FallbackPath)
	if err != nil {
		return "", false, nil
	}
	value, ok := keys.ApiKeys[name]
	return value, ok && value != "", nil
}
