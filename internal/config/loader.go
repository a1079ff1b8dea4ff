package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading and hot-reload
type Loader struct {
	configFilePath string
	config         *ApplicationConfig
	configMutex    sync.RWMutex
	fileWatcher    *fsnotify.Watcher
	stopChan       chan struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath string) (*Loader, error) {
	loader := &Loader{
		configFilePath: configPath,
		stopChan:       make(chan struct{}),
	}

	// Load .env file (optional)
	_ = godotenv.Load()

	// Initial load
	if err := loader.reload(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Start file watcher
	if err := loader.startFileWatcher(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config file watcher, hot-reload disabled")
	}

	return loader, nil
}

// reload loads configuration from file
func (l *Loader) reload() error {
	// Start with defaults
	cfg := GetDefaultConfig()

	// Hold the default dataPorts aside so the YAML decides whether
	// dataPorts, the legacy dataPort, or neither was set.
	defaultDataPorts := cfg.DataPorts
	cfg.DataPorts = nil

	// Load from YAML file if it exists
	data, err := os.ReadFile(l.configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", l.configFilePath).Msg("Config file not found, using defaults")
		} else {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	// Normalize the legacy single-port form into dataPorts.
	if cfg.DataPort != nil && len(cfg.DataPorts) == 0 {
		cfg.DataPorts = []DataPortConfig{{Port: *cfg.DataPort, Protocol: ProtocolUDP, Name: "default"}}
	}
	if cfg.DataPorts == nil {
		cfg.DataPorts = defaultDataPorts
	}

	// Apply environment variable overrides
	l.applyEnvironmentOverrides(cfg)

	// Validate configuration
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Store config
	l.configMutex.Lock()
	l.config = cfg
	l.configMutex.Unlock()

	log.Info().Msg("Configuration loaded successfully")
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides
func (l *Loader) applyEnvironmentOverrides(cfg *ApplicationConfig) {
	// METRICS_PORT override
	if port := os.Getenv("METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Observability.MetricsPort = p
		}
	}

	// QUERY_PORT override
	if port := os.Getenv("QUERY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.QueryPort = p
		}
	}
}

// GetConfig returns the current configuration (thread-safe)
func (l *Loader) GetConfig() *ApplicationConfig {
	l.configMutex.RLock()
	defer l.configMutex.RUnlock()
	return l.config
}

// startFileWatcher starts watching the config file for changes
func (l *Loader) startFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	l.fileWatcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					log.Info().Str("file", l.configFilePath).Msg("Config file changed, reloading...")

					if err := l.reload(); err != nil {
						log.Error().Err(err).Msg("Failed to reload config")
						continue
					}

					log.Info().Msg("Config reloaded successfully")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Config watcher error")
			case <-l.stopChan:
				return
			}
		}
	}()

	return watcher.Add(l.configFilePath)
}

// Close closes the config loader and file watcher
func (l *Loader) Close() error {
	close(l.stopChan)
	if l.fileWatcher != nil {
		return l.fileWatcher.Close()
	}
	return nil
}
