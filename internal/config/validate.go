package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRegistration(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRegistration() error {
	if c.Registration.FlirtBinary == "" {
		return errors.New("registration.flirt_binary must be set")
	}
	if err := ValidateCost(c.Registration.Cost); err != nil {
		return fmt.Errorf("registration.cost: %w", err)
	}
	return nil
}

func (c *Config) validateOutput() error {
	if strings.ContainsAny(c.Output.Suffix, `/\`) {
		return fmt.Errorf("output.suffix %q must not contain path separators", c.Output.Suffix)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// ValidateCost reports whether the cost function is one FLIRT accepts.
func ValidateCost(cost string) error {
	if slices.Contains(CostFunctions, NormalizeCost(cost)) {
		return nil
	}
	return fmt.Errorf("unsupported cost function %q (expected one of %s)", cost, strings.Join(CostFunctions, ", "))
}
