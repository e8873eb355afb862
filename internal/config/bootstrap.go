package config

import (
	"errors"
	"os"
	"path/filepath"
)

// configNames are looked up in order; new files are written under the first.
var configNames = []string{"config.yml", "config.yaml"}

// EnsureUserConfig returns the config file in dataDir, creating the
// directory and writing the built-in defaults when neither name exists.
// The data dir holds contact data, so it is created owner-only.
func EnsureUserConfig(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", err
	}
	for _, name := range configNames {
		p := filepath.Join(dataDir, name)
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	userPath := filepath.Join(dataDir, configNames[0])
	cfg := Default()
	cfg.App.DataDir = dataDir
	if err := SaveAtomic(userPath, cfg); err != nil {
		return "", err
	}
	return userPath, nil
}
