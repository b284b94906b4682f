package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RTLTCP_RTL_TCP_PORT.
const EnvPrefix = "RTLTCP"

var envReplacer = strings.NewReplacer(".", "_")

// Store persists the settings table in a YAML file through viper.
// Environment variables override file values on Load.
type Store struct {
	v    *viper.Viper
	path string
}

// NewStore returns a store backed by the file at path. The file does not
// need to exist.
func NewStore(path string) *Store {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	return &Store{v: v, path: path}
}

// Path returns the backing file.
func (st *Store) Path() string { return st.path }

// Viper exposes the underlying instance so callers can bind flags.
func (st *Store) Viper() *viper.Viper { return st.v }

// Load applies every stored value to s. Invalid values are skipped and
// reported together; valid ones are still applied.
func (st *Store) Load(s *Settings) error {
	if _, err := os.Stat(st.path); err == nil {
		if err := st.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read settings %s: %w", st.path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat settings %s: %w", st.path, err)
	}

	var errs []error
	for i := 0; i < s.Count(); i++ {
		key := settingDefs[i].key
		if !st.v.IsSet(key) {
			continue
		}
		if err := s.Set(i, st.v.GetString(key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Save writes the current table to the backing file. A key overridden by
// its environment variable keeps the value already in the file, or stays
// absent, so the override is never persisted.
func (st *Store) Save(s *Settings) error {
	file := viper.New()
	file.SetConfigFile(st.path)
	file.SetConfigType("yaml")
	if _, err := os.Stat(st.path); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("read settings %s: %w", st.path, err)
		}
	}

	out := viper.New()
	out.SetConfigType("yaml")
	for _, setting := range s.All() {
		if os.Getenv(EnvKey(setting.Key)) != "" {
			if file.IsSet(setting.Key) {
				out.Set(setting.Key, file.Get(setting.Key))
			}
			continue
		}
		out.Set(setting.Key, setting.Value)
	}
	if dir := filepath.Dir(st.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := out.WriteConfigAs(st.path); err != nil {
		return fmt.Errorf("write settings %s: %w", st.path, err)
	}
	return nil
}

// EnvKey is the environment variable that overrides key.
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(envReplacer.Replace(key))
}
