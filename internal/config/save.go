package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# prospect-engine configuration.
# Environment variables (PROSPECT_*) override values here at load time.
`

// SaveAtomic validates cfg and swaps it in for path through a temp file in
// the same directory, so a reader never sees a partial file. The previous
// contents are copied to path.bak and the file mode is kept.
func SaveAtomic(path string, cfg Config) error {
	normalized, vr := NormalizeAndValidate(cfg)
	if !vr.OK() {
		return vr
	}
	body, err := yaml.Marshal(&normalized)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	prev, err := os.ReadFile(path)
	switch {
	case err == nil:
		if fi, serr := os.Stat(path); serr == nil {
			mode = fi.Mode().Perm()
		}
		if err := os.WriteFile(path+".bak", prev, mode); err != nil {
			return fmt.Errorf("back up config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.WriteString(tmp, fileHeader)
	if err == nil {
		_, err = tmp.Write(body)
	}
	if err == nil {
		err = tmp.Chmod(mode)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
