package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// ConfigBackend abstracts persistent config storage.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend stores config in a YAML, JSON or TOML file (chosen by
// extension). Dotted keys map to nested sections.
type fileBackend struct {
	path string
	v    *viper.Viper
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path}
	b.load()
	return b
}

func (b *fileBackend) load() {
	b.v = viper.New()
	b.v.SetConfigFile(b.path)
	if err := b.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
		b.v = viper.New()
		b.v.SetConfigFile(b.path)
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := b.v.WriteConfigAs(b.path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return os.Chmod(b.path, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if !b.v.IsSet(key) {
		return "", false, nil
	}
	v := b.v.Get(key)
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if !b.v.IsSet(key) {
		return 0, false, nil
	}
	switch val := b.v.Get(key).(type) {
	case int:
		return val, true, nil
	case int64:
		return int(val), true, nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.v.Set(key, val)
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.v.Set(key, val)
	return b.save()
}

// Delete removes key by rebuilding the settings without it; viper has no
// unset operation.
func (b *fileBackend) Delete(key string) error {
	if !b.v.IsSet(key) {
		return nil
	}
	settings := make(map[string]any)
	for _, k := range b.v.AllKeys() {
		if k != key {
			settings[k] = b.v.Get(k)
		}
	}
	b.v = viper.New()
	b.v.SetConfigFile(b.path)
	for k, val := range settings {
		b.v.Set(k, val)
	}
	return b.save()
}
