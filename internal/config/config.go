// Package config loads updatectl's startup configuration: the handful
// of host-local settings the core itself takes no opinion on (spec §1:
// configuration is out of scope for the core) but that `cmd/updatectl`
// needs to construct one - the lock path, the work directory, the
// history directory, and the safety-gate thresholds the Plan Builder
// enforces.
package config

import (
	"os"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/kaizengarden/sdcadm/core/history"
	"github.com/kaizengarden/sdcadm/core/lock"
	"github.com/kaizengarden/sdcadm/core/plan"
)

// Config is updatectl's on-disk configuration, read once at startup
// (mirrors how juju's agent package loads a typed config struct from
// YAML before anything else runs).
type Config struct {
	// LockPath overrides lock.DefaultPath.
	LockPath string `yaml:"lock_path"`
	// WorkDir is where per-update artifacts (plan.json, rollback
	// scripts) are written; spec §6 names /var/sdcadm/updates.
	WorkDir string `yaml:"work_dir"`
	// HistoryDir overrides history.DefaultDir.
	HistoryDir string `yaml:"history_dir"`

	// MinPlatform and MinImageBuildDateByService feed directly into
	// plan.SafetyConfig (spec §4.3 "Safety gates").
	MinPlatform                string            `yaml:"min_platform"`
	MinImageBuildDateByService map[string]string `yaml:"min_image_build_date_by_service"`
}

// Validate reports whether c is well-formed enough to construct the
// core from. It deliberately does not require any field: a zero-value
// Config is valid and falls back to every component's own defaults,
// the same way a zero plan.SafetyConfig enforces no safety minimums.
func (c Config) Validate() error {
	for name, date := range c.MinImageBuildDateByService {
		if name == "" {
			return errors.NotValidf("empty service name in min_image_build_date_by_service")
		}
		if date == "" {
			return errors.NotValidf("empty build date for service %q in min_image_build_date_by_service", name)
		}
	}
	return nil
}

// Read parses path as YAML into a Config and validates it.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %s", path)
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Annotate(err, "invalid config")
	}
	return c, nil
}

// LockManager builds the core/lock.Manager this config describes.
func (c Config) LockManager() lock.Manager {
	return lock.Manager{Path: c.LockPath}
}

// HistoryStore builds the core/history.FileStore this config describes.
func (c Config) HistoryStore() history.FileStore {
	return history.FileStore{Dir: c.HistoryDir}
}

// Safety builds the plan.SafetyConfig this config describes.
func (c Config) Safety() plan.SafetyConfig {
	return plan.SafetyConfig{
		MinPlatform:                c.MinPlatform,
		MinImageBuildDateByService: c.MinImageBuildDateByService,
	}
}
