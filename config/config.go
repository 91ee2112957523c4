// Package config handles taskd.toml agent configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked for by FindAndLoad.
const FileName = "taskd.toml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents a taskd.toml agent configuration.
type Config struct {
	Listen   Listen   `toml:"listen"`
	Protocol Protocol `toml:"protocol"`
	VM       VM       `toml:"vm"`
	Log      Log      `toml:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-"`
}

// Listen configures the inbound endpoint.
type Listen struct {
	Transport string `toml:"transport"` // "vsock" or "tcp"
	Port      uint32 `toml:"port"`
	Address   string `toml:"address"`
	Backlog   int    `toml:"backlog"`
}

// Protocol configures the wire protocol.
type Protocol struct {
	Encoding        string `toml:"encoding"` // "json" or "cbor"
	MaxMessageBytes int64  `toml:"max_message_bytes"`
	MinVersion      int    `toml:"min_version"`
}

// VM configures the execution context.
type VM struct {
	Seed      uint32 `toml:"seed"`
	QueueSize int    `toml:"queue_size"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen: Listen{
			Transport: "vsock",
			Port:      1024,
			Address:   "127.0.0.1:1024",
			Backlog:   32,
		},
		Protocol: Protocol{
			Encoding:        "json",
			MaxMessageBytes: 1 << 20,
		},
		VM: VM{
			Seed:      1,
			QueueSize: 16,
		},
		Log: Log{
			Verbosity: 1,
		},
	}
}

// Load parses the configuration file at path. Keys absent from the file
// keep their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a taskd.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Listen.Transport {
	case "vsock":
		if c.Listen.Port == 0 {
			errs = append(errs, errors.New("listen.port must be non-zero"))
		}
	case "tcp":
		if c.Listen.Address == "" {
			errs = append(errs, errors.New("listen.address is required for tcp"))
		}
	default:
		errs = append(errs, fmt.Errorf("listen.transport %q is not vsock or tcp", c.Listen.Transport))
	}
	if c.Listen.Backlog <= 0 {
		errs = append(errs, errors.New("listen.backlog must be positive"))
	}
	switch c.Protocol.Encoding {
	case "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("protocol.encoding %q is not json or cbor", c.Protocol.Encoding))
	}
	if c.Protocol.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("protocol.max_message_bytes must be positive"))
	}
	if c.VM.QueueSize <= 0 {
		errs = append(errs, errors.New("vm.queue_size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// SetPort overrides the listen port for both transports.
func (c *Config) SetPort(port uint32) {
	c.Listen.Port = port
	host, _, err := net.SplitHostPort(c.Listen.Address)
	if err != nil {
		host = c.Listen.Address
	}
	c.Listen.Address = net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}
