// Package config holds node configuration: built-in defaults, an optional
// YAML file, and command-line flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/midirtc/internal/transport"
	"github.com/1ureka/midirtc/internal/util"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ThroughputMode selects how senders pace themselves.
type ThroughputMode string

const (
	// ThroughputOff sends only when a note is produced.
	ThroughputOff ThroughputMode = "off"
	// ThroughputFixedRate resends the latest note at KilobytesPerSecond.
	ThroughputFixedRate ThroughputMode = "fixed-rate"
)

// Config stores every node parameter.
type Config struct {
	RendezvousURL        string         `yaml:"rendezvousUrl"`
	LocalID              string         `yaml:"localId"` // empty: random
	PartnerID            string         `yaml:"partnerId"`
	BufferWatermarkBytes uint64         `yaml:"bufferWatermarkBytes"`
	ThroughputMode       ThroughputMode `yaml:"throughputMode"`
	KilobytesPerSecond   int            `yaml:"kilobytesPerSecond"`
	ReceiveOnly          bool           `yaml:"receiveOnly"`
	STUNServers          []string       `yaml:"stunServers"`
	Debug                bool           `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RendezvousURL:        "ws://127.0.0.1:8000",
		BufferWatermarkBytes: 64 * 1024,
		ThroughputMode:       ThroughputOff,
		STUNServers:          append([]string(nil), transport.DefaultSTUNServers...),
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return nil
}

// BytesPerSecond returns the fixed-rate budget, or 0 when the mode is off.
func (c Config) BytesPerSecond() int {
	if c.ThroughputMode != ThroughputFixedRate {
		return 0
	}
	return c.KilobytesPerSecond * 1000
}

// Validate checks the configuration for values the node cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.RendezvousURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: rendezvousUrl %q must be a ws:// or wss:// URL", ErrInvalid, c.RendezvousURL)
	}

	if c.LocalID != "" && !util.ValidPeerID(c.LocalID) {
		return fmt.Errorf("%w: localId %q must be %d alphanumeric characters", ErrInvalid, c.LocalID, util.PeerIDLength)
	}
	if c.PartnerID != "" {
		if !util.ValidPeerID(c.PartnerID) {
			return fmt.Errorf("%w: partnerId %q must be %d alphanumeric characters", ErrInvalid, c.PartnerID, util.PeerIDLength)
		}
		if c.PartnerID == c.LocalID {
			return fmt.Errorf("%w: partnerId equals localId", ErrInvalid)
		}
	}

	if c.BufferWatermarkBytes == 0 {
		return fmt.Errorf("%w: bufferWatermarkBytes must be > 0", ErrInvalid)
	}

	switch c.ThroughputMode {
	case ThroughputOff:
	case ThroughputFixedRate:
		if c.KilobytesPerSecond <= 0 {
			return fmt.Errorf("%w: kilobytesPerSecond must be > 0 in %s mode", ErrInvalid, ThroughputFixedRate)
		}
	default:
		return fmt.Errorf("%w: throughputMode %q (want %s or %s)", ErrInvalid, c.ThroughputMode, ThroughputOff, ThroughputFixedRate)
	}

	for _, s := range c.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("%w: stun server %q", ErrInvalid, s)
		}
	}
	return nil
}

// Parse builds a Config from args: defaults, then the file named by
// --config (if any), then every flag given explicitly. The result is
// validated.
func Parse(name string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "YAML configuration file")

	var flags Config
	bindFlags(fs, &flags, Default())

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply(&cfg, &flags)
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func bindFlags(fs *pflag.FlagSet, c *Config, def Config) {
	fs.StringVar(&c.RendezvousURL, "rendezvous", def.RendezvousURL, "rendezvous server URL")
	fs.StringVar(&c.LocalID, "id", def.LocalID, "local peer id (random if empty)")
	fs.StringVarP(&c.PartnerID, "partner", "p", def.PartnerID, "peer id to connect to (prompted if empty)")
	fs.Uint64Var(&c.BufferWatermarkBytes, "watermark", def.BufferWatermarkBytes, "pause sending above this many buffered bytes")
	fs.StringVar((*string)(&c.ThroughputMode), "throughput-mode", string(def.ThroughputMode), "off or fixed-rate")
	fs.IntVar(&c.KilobytesPerSecond, "kbps", def.KilobytesPerSecond, "fixed-rate send budget in KB/s")
	fs.BoolVar(&c.ReceiveOnly, "receive-only", def.ReceiveOnly, "never send notes")
	fs.StringSliceVar(&c.STUNServers, "stun", def.STUNServers, "STUN server URLs")
	fs.BoolVar(&c.Debug, "debug", def.Debug, "enable debug logging")
}

// overrides copies one flag's value from the parsed flag set into the
// effective config.
var overrides = map[string]func(dst, src *Config){
	"rendezvous":      func(d, s *Config) { d.RendezvousURL = s.RendezvousURL },
	"id":              func(d, s *Config) { d.LocalID = s.LocalID },
	"partner":         func(d, s *Config) { d.PartnerID = s.PartnerID },
	"watermark":       func(d, s *Config) { d.BufferWatermarkBytes = s.BufferWatermarkBytes },
	"throughput-mode": func(d, s *Config) { d.ThroughputMode = s.ThroughputMode },
	"kbps":            func(d, s *Config) { d.KilobytesPerSecond = s.KilobytesPerSecond },
	"receive-only":    func(d, s *Config) { d.ReceiveOnly = s.ReceiveOnly },
	"stun":            func(d, s *Config) { d.STUNServers = s.STUNServers },
	"debug":           func(d, s *Config) { d.Debug = s.Debug },
}
