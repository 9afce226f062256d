package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeAssets(); err != nil {
		return err
	}
	c.normalizeRegistration()
	c.normalizeOutput()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeAssets() error {
	dataDir := strings.TrimSpace(c.Assets.DataDir)
	if dataDir == "" || dataDir == defaultDataDir {
		if value, ok := os.LookupEnv("DEFACE_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
			dataDir = strings.TrimSpace(value)
		}
	}
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	var err error
	if c.Assets.DataDir, err = expandPath(dataDir); err != nil {
		return fmt.Errorf("assets.data_dir: %w", err)
	}
	if c.Assets.Template, err = expandPath(strings.TrimSpace(c.Assets.Template)); err != nil {
		return fmt.Errorf("assets.template: %w", err)
	}
	if c.Assets.Facemask, err = expandPath(strings.TrimSpace(c.Assets.Facemask)); err != nil {
		return fmt.Errorf("assets.facemask: %w", err)
	}
	return nil
}

func (c *Config) normalizeRegistration() {
	c.Registration.FlirtBinary = strings.TrimSpace(c.Registration.FlirtBinary)
	if c.Registration.FlirtBinary == "" {
		c.Registration.FlirtBinary = defaultFlirtBinary
	}
	c.Registration.Cost = NormalizeCost(c.Registration.Cost)
	if c.Registration.Cost == "" {
		c.Registration.Cost = defaultCostFunction
	}
}

func (c *Config) normalizeOutput() {
	c.Output.Suffix = strings.TrimSpace(c.Output.Suffix)
	if c.Output.Suffix == "" {
		c.Output.Suffix = defaultOutputSuffix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = fold.String(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = fold.String(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// NormalizeCost canonicalizes a FLIRT cost function name.
func NormalizeCost(value string) string {
	return fold.String(strings.TrimSpace(value))
}
