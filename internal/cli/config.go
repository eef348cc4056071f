package cli

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/resolve"
)

var ErrInvalidConfig = errors.New("invalid config")

const exampleConfig = `# fiberecho configuration
listen: 127.0.0.1:7007
schedulers: 4
backlog: 1024
stack_size: 131072
max_events: 256

dns:
  server: 8.8.8.8:53
  timeout: 2s
  attempts: 2
  # Optional hosts(5) file consulted before DNS.
  hosts: /etc/hosts
`

// Config models the optional YAML config file. Flags set on the command
// line take precedence over it.
type Config struct {
	Listen     string    `yaml:"listen"`
	Schedulers int       `yaml:"schedulers"`
	Backlog    int       `yaml:"backlog"`
	StackSize  int       `yaml:"stack_size"`
	MaxEvents  int       `yaml:"max_events"`
	DNS        DNSConfig `yaml:"dns"`
}

// DNSConfig configures name resolution.
type DNSConfig struct {
	Server   string        `yaml:"server"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
	Hosts    string        `yaml:"hosts,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:     "127.0.0.1:7007",
		Schedulers: 1,
		Backlog:    1024,
		StackSize:  fiber.DefaultStackSize,
		MaxEvents:  fiber.DefaultMaxEvents,
		DNS: DNSConfig{
			Server:   resolve.DefaultServer,
			Timeout:  resolve.DefaultTimeout,
			Attempts: resolve.DefaultAttempts,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var merr error
	if _, err := netip.ParseAddrPort(c.Listen); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("listen: %w", err))
	}
	if c.Schedulers <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("schedulers: must be positive, got %d", c.Schedulers))
	}
	if c.StackSize <= 0 || c.StackSize > fiber.MaxStackSize {
		merr = multierror.Append(merr, fmt.Errorf("stack_size: %w: %d", fiber.ErrStackSize, c.StackSize))
	}
	if c.MaxEvents <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("max_events: must be positive, got %d", c.MaxEvents))
	}
	if _, err := netip.ParseAddrPort(c.DNS.Server); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("dns.server: %w", err))
	}
	if c.DNS.Timeout <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("dns.timeout: must be positive, got %s", c.DNS.Timeout))
	}
	if c.DNS.Attempts <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("dns.attempts: must be positive, got %d", c.DNS.Attempts))
	}
	if merr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, merr)
	}
	return nil
}
