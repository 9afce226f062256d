package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// TempDir hosts per-run registration workspaces. Empty means os.TempDir().
	TempDir  string `toml:"temp_dir"`
	StateDir string `toml:"state_dir"`
}

// Assets locates the registration template and its facemask.
type Assets struct {
	DataDir  string `toml:"data_dir"`
	Template string `toml:"template"`
	Facemask string `toml:"facemask"`
}

// Registration contains configuration for the FLIRT registration engine.
type Registration struct {
	FlirtBinary string `toml:"flirt_binary"`
	Cost        string `toml:"cost"`
}

// Output controls how defaced images and temporary artifacts are written.
type Output struct {
	Suffix        string `toml:"suffix"`
	KeepTemporary bool   `toml:"keep_temporary"`
}

// History controls the run ledger.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   bool   `toml:"file"`
}

// Config encapsulates all configuration values for the defacer.
//
// Configuration sections by subsystem:
//   - Paths: temporary workspace and state directories
//   - Assets: default template and facemask
//   - Registration: FLIRT binary and cost function
//   - Output: output naming and artifact retention
//   - History: SQLite run ledger
//   - Logging: log format and level
type Config struct {
	Paths        Paths        `toml:"paths"`
	Assets       Assets       `toml:"assets"`
	Registration Registration `toml:"registration"`
	Output       Output       `toml:"output"`
	History      History      `toml:"history"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/deface/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("deface.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory and, when configured, the
// temporary workspace root.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.LockDir()}
	if c.Paths.TempDir != "" {
		dirs = append(dirs, c.Paths.TempDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TempRoot returns the directory under which run workspaces are created.
func (c *Config) TempRoot() string {
	if c.Paths.TempDir != "" {
		return c.Paths.TempDir
	}
	return os.TempDir()
}

// LogDir returns the directory for optional log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// LockDir returns the directory holding per-output advisory locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// HistoryPath returns the SQLite database path for the run ledger.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.StateDir, defaultHistoryDBName)
}

// TemplatePath returns the configured default template.
func (c *Config) TemplatePath() string {
	if c.Assets.Template != "" {
		return c.Assets.Template
	}
	return filepath.Join(c.Assets.DataDir, defaultTemplateName)
}

// FacemaskPath returns the configured default facemask.
func (c *Config) FacemaskPath() string {
	if c.Assets.Facemask != "" {
		return c.Assets.Facemask
	}
	return filepath.Join(c.Assets.DataDir, defaultFacemaskName)
}

// FlirtBinary returns the FLIRT executable, preferring $FSLDIR/bin when the
// configured binary is a bare name that exists there.
func (c *Config) FlirtBinary() string {
	binary := c.Registration.FlirtBinary
	if strings.ContainsRune(binary, os.PathSeparator) {
		return binary
	}
	if fslDir := strings.TrimSpace(os.Getenv("FSLDIR")); fslDir != "" {
		candidate := filepath.Join(fslDir, "bin", binary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return binary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
