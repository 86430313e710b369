package evloop

import (
	"errors"
	"fmt"
	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"io/ioutil"
	"path/filepath"
	"strings"
)

const (
	defLogLevel         = "info"
	defResponderAddress = "127.0.0.1:8080"
	defBacklog          = 128
	defReadBufferSize   = 1024
	defResponseBody     = "Hello, World from My Cool Event-loop library!!"
	defCacheMaxCost     = 1 << 20
)

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

type LoopConfig struct {
	Name            string `yaml:"name" toml:"name"`
	LockOsThread    bool   `yaml:"lock_os_thread" toml:"lock_os_thread"`
	EventBufferSize int    `yaml:"event_buffer_size" toml:"event_buffer_size"`
}

type RouteConfig struct {
	Path string `yaml:"path" toml:"path"`
	Body string `yaml:"body" toml:"body"`
}

type ResponderConfig struct {
	Address        string        `yaml:"address" toml:"address"`
	Backlog        int           `yaml:"backlog" toml:"backlog"`
	EdgeTriggered  bool          `yaml:"edge_triggered" toml:"edge_triggered"`
	ReadBufferSize int           `yaml:"read_buffer_size" toml:"read_buffer_size"`
	Body           string        `yaml:"body" toml:"body"`
	Routes         []RouteConfig `yaml:"routes" toml:"routes"`
	CacheMaxCost   int64         `yaml:"cache_max_cost" toml:"cache_max_cost"`
}

type Config struct {
	Global    Global          `yaml:"global" toml:"global"`
	EventLoop LoopConfig      `yaml:"event_loop" toml:"event_loop"`
	Responder ResponderConfig `yaml:"responder" toml:"responder"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// LoadConfig reads a .toml or .yaml/.yml file, fills defaults and validates it.
func LoadConfig(filePath string) (*Config, error) {
	file, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		err = toml.Unmarshal(file, config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, config)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("can't parse config %s: %w", filePath, err)
	}
	applyDefaults(config)
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ToEventLoopConfig converts the event_loop section to EventLoopConfig.
func (c *Config) ToEventLoopConfig() EventLoopConfig {
	return EventLoopConfig{
		Name:            c.EventLoop.Name,
		LockOsThread:    c.EventLoop.LockOsThread,
		EventBufferSize: c.EventLoop.EventBufferSize,
	}
}

// LogLevel parses global.log_level.
func (c *Config) LogLevel() (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(c.Global.LogLevel))
}

func applyDefaults(config *Config) {
	if config.Global.LogLevel == "" {
		config.Global.LogLevel = defLogLevel
	}
	if config.EventLoop.Name == "" {
		config.EventLoop.Name = "MainLoop"
	}
	if config.EventLoop.EventBufferSize == 0 {
		config.EventLoop.EventBufferSize = defEventsBufferSize
	}
	if config.Responder.Address == "" {
		config.Responder.Address = defResponderAddress
	}
	if config.Responder.Backlog == 0 {
		config.Responder.Backlog = defBacklog
	}
	if config.Responder.ReadBufferSize == 0 {
		config.Responder.ReadBufferSize = defReadBufferSize
	}
	if config.Responder.Body == "" {
		config.Responder.Body = defResponseBody
	}
	if config.Responder.CacheMaxCost == 0 {
		config.Responder.CacheMaxCost = defCacheMaxCost
	}
}

func validateConfig(config *Config) error {
	if _, err := config.LogLevel(); err != nil {
		return fmt.Errorf("invalid global.log_level: %w", err)
	}
	if config.EventLoop.EventBufferSize < 0 {
		return errors.New("event_loop.event_buffer_size must be positive")
	}
	if config.Responder.Backlog < 0 {
		return errors.New("responder.backlog must be positive")
	}
	if config.Responder.ReadBufferSize < 0 {
		return errors.New("responder.read_buffer_size must be positive")
	}
	if config.Responder.CacheMaxCost < 0 {
		return errors.New("responder.cache_max_cost must be positive")
	}
	seen := make(map[string]bool, len(config.Responder.Routes))
	for _, route := range config.Responder.Routes {
		if !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("route path %q must start with /", route.Path)
		}
		if seen[route.Path] {
			return fmt.Errorf("duplicate route path %q", route.Path)
		}
		seen[route.Path] = true
	}
	return nil
}
