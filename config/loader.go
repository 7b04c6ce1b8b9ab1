package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "semplan.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/semplan"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
	home   string
	cwd    string
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	if home, err := os.UserHomeDir(); err == nil {
		l.home = home
	}
	if cwd, err := os.Getwd(); err == nil {
		l.cwd = cwd
	}
	return l
}

// Load layers, in increasing precedence:
//  1. defaults
//  2. the user config (~/.config/semplan/config.yaml)
//  3. the nearest semplan.yaml in the working directory or a parent
//  4. explicit, when non-empty
//
// A missing user or project file is skipped; a missing explicit file is an
// error.
func (l *Loader) Load(explicit string) (*Config, error) {
	config := DefaultConfig()

	if path := l.userConfigPath(); path != "" {
		layer, err := readLayer(path)
		switch {
		case err == nil:
			l.logger.Debug("Loaded user config", "path", path)
			config.Merge(layer)
		case !errors.Is(err, fs.ErrNotExist):
			l.logger.Warn("Failed to load user config", "path", path, "error", err)
		}
	}

	if path := l.findProjectConfig(); path != "" {
		layer, err := readLayer(path)
		if err != nil {
			l.logger.Warn("Failed to load project config", "path", path, "error", err)
		} else {
			l.logger.Debug("Loaded project config", "path", path)
			config.Merge(layer)
		}
	}

	if explicit != "" {
		layer, err := readLayer(explicit)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", "path", explicit)
		config.Merge(layer)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EnsureUserConfig writes the defaults to the user config file if it does not
// exist yet.
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return errors.New("no home directory")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("Created default user config", "path", path)
	return nil
}

func (l *Loader) userConfigPath() string {
	if l.home == "" {
		return ""
	}
	return filepath.Join(l.home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks up from the working directory.
func (l *Loader) findProjectConfig() string {
	if l.cwd == "" {
		return ""
	}
	for dir := l.cwd; ; {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
