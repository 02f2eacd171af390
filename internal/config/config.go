package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
)

// EnvPrefix prefixes every environment override, e.g. CODEDROP_RELAY_URL.
const EnvPrefix = "CODEDROP"

// Default configuration values
const (
	DefaultRelayURL      = "ws://localhost:8080/ws"
	DefaultConfigPath    = "~/.config/codedrop/config.toml"
	DefaultListenAddr    = ":8080"
	DefaultOutputDir     = "."
	DefaultRoomTTL       = 5 * time.Minute
	DefaultMaxFiles      = 10
	DefaultMaxFileSize   = 1 << 30
	DefaultSweepHorizon  = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// DefaultSTUNServers are the public STUN servers used when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
}

// Duration is a time.Duration read from strings like "5m" in both the
// config file and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds application configuration
type Config struct {
	// RelayURL is the websocket endpoint of the relay server
	RelayURL string `toml:"relay_url" envconfig:"RELAY_URL"`

	// ICE servers for WebRTC
	STUNServers []string `toml:"stun_servers" envconfig:"STUN_SERVERS"`
	TURNServer  string   `toml:"turn_server" envconfig:"TURN_SERVER"`
	TURNUser    string   `toml:"turn_username" envconfig:"TURN_USERNAME"`
	TURNPass    string   `toml:"turn_password" envconfig:"TURN_PASSWORD"`
	ForceRelay  bool     `toml:"force_relay" envconfig:"FORCE_RELAY"`

	RoomTTL     Duration `toml:"room_ttl" envconfig:"ROOM_TTL"`
	OutputDir   string   `toml:"output_dir" envconfig:"OUTPUT_DIR"`
	MaxFiles    int      `toml:"max_files" envconfig:"MAX_FILES"`
	MaxFileSize int64    `toml:"max_file_size" envconfig:"MAX_FILE_SIZE"`

	// Relay server settings
	ListenAddr    string   `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	SweepHorizon  Duration `toml:"sweep_horizon" envconfig:"SWEEP_HORIZON"`
	SweepInterval Duration `toml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
}

// Options for loading config with CLI flag overrides. Zero values leave the
// lower layers untouched.
type Options struct {
	ConfigFile  string
	RelayURL    string
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	RoomTTL     time.Duration
	OutputDir   string
	ListenAddr  string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RelayURL:      DefaultRelayURL,
		STUNServers:   append([]string(nil), DefaultSTUNServers...),
		RoomTTL:       Duration{DefaultRoomTTL},
		OutputDir:     DefaultOutputDir,
		MaxFiles:      DefaultMaxFiles,
		MaxFileSize:   DefaultMaxFileSize,
		ListenAddr:    DefaultListenAddr,
		SweepHorizon:  Duration{DefaultSweepHorizon},
		SweepInterval: Duration{DefaultSweepInterval},
	}
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (CODEDROP_*)
// 3. TOML config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path, explicit := opts.ConfigFile, true
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path == "" {
		path, explicit = DefaultConfigPath, false
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	cfg.apply(opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, explicit bool) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("invalid config path %q: %w", path, err)
	}

	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config file: %w", err)
	}

	if _, err := toml.DecodeFile(expanded, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", expanded, err)
	}
	return nil
}

func (c *Config) apply(opts Options) {
	if opts.RelayURL != "" {
		c.RelayURL = opts.RelayURL
	}
	if len(opts.STUNServers) > 0 {
		c.STUNServers = opts.STUNServers
	}
	if opts.TURNServer != "" {
		c.TURNServer = opts.TURNServer
	}
	if opts.TURNUser != "" {
		c.TURNUser = opts.TURNUser
	}
	if opts.TURNPass != "" {
		c.TURNPass = opts.TURNPass
	}
	if opts.ForceRelay {
		c.ForceRelay = true
	}
	if opts.RoomTTL > 0 {
		c.RoomTTL = Duration{opts.RoomTTL}
	}
	if opts.OutputDir != "" {
		c.OutputDir = opts.OutputDir
	}
	if opts.ListenAddr != "" {
		c.ListenAddr = opts.ListenAddr
	}
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.RelayURL == "":
		return errors.New("relay URL must not be empty")
	case c.RoomTTL.Duration <= 0:
		return fmt.Errorf("room TTL must be positive, got %s", c.RoomTTL)
	case c.MaxFiles <= 0:
		return fmt.Errorf("max files must be positive, got %d", c.MaxFiles)
	case c.MaxFileSize <= 0:
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileSize)
	case c.SweepInterval.Duration <= 0 || c.SweepHorizon.Duration <= 0:
		return errors.New("sweep interval and horizon must be positive")
	}
	return nil
}

// TURNServers returns TURN server URLs if configured
func (c *Config) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}
