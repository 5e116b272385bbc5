// Package config loads the boot-time configuration (serial device,
// baud, NVM image path, HTTP bind address and enable switch, dispatch
// rate, log level) from a YAML file via koanf, and can hot-reload it on
// change.
// This is ambient-stack plumbing the reference firmware never needed
// (its configuration was compiled in); it is carried here because every
// teacher binary in the pack boots from a koanf-style config file
// rather than hard-coded constants.
package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
)

// Config is the full set of boot-time knobs.
type Config struct {
	Serial struct {
		Device string `koanf:"device"`
		Baud   int    `koanf:"baud"`
	} `koanf:"serial"`

	NVM struct {
		Path string `koanf:"path"`
	} `koanf:"nvm"`

	HTTP struct {
		Addr    string `koanf:"addr"`
		Enabled bool   `koanf:"enabled"`
	} `koanf:"http"`

	Dispatch struct {
		RateHz int `koanf:"rate_hz"`
	} `koanf:"dispatch"`

	LogLevel string `koanf:"log_level"`
}

// Default returns the base configuration that Load overlays a file's
// values onto; any key the file omits keeps its value from here.
func Default() *Config {
	c := &Config{}
	c.Serial.Device = "/dev/ttyUSB0"
	c.Serial.Baud = 115200
	c.NVM.Path = "extruderfin.nvm"
	c.HTTP.Addr = ":8080"
	c.HTTP.Enabled = false
	c.Dispatch.RateHz = 20
	c.LogLevel = "info"
	return c
}

// Load reads and parses path as YAML, overlaying it onto Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling %s: %w", path, err)
	}
	return cfg, nil
}

// Watch loads path once, then invokes onChange with a freshly
// re-parsed Config every time the file is written, for as long as ctx
// is not done. The initial load's result and any error from it are
// returned immediately; reload errors are passed to onChange with a
// nil Config instead of stopping the watch, since a transient partial
// write (the file mid-save) should not crash a running controller.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: starting watcher for %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				onChange(reloaded, err)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(nil, fmt.Errorf("config: watch %s: %w", path, err))
			}
		}
	}()

	return cfg, nil
}
