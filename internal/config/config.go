// Package config loads and validates the origin's configuration from a
// file, environment variables, and flags, via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values (spec §6).
const (
	defaultPort              = 8080
	defaultSegmentDuration   = 1 * time.Second // spec §6 "segment_duration_s: f32 (default 1.0)"
	defaultMinSegment        = 500 * time.Millisecond
	defaultMaxSegment        = 2 * time.Second
	defaultWindowSize        = 6
	defaultMaxSegments       = 12
	defaultTargetDuration    = 2 // ceil(D_max)
	defaultClientIdleTimeout = 15 * time.Second
	defaultSweepInterval     = 5 * time.Second
	defaultQueueSize         = 64
	defaultPathLength        = 10 // spec §3: "lowercase letters, length L, default 10"
	defaultPathGraceWindow   = 5 * time.Second
	defaultMemoryHighWater   = 48 * 1024 * 1024 // 48MB
	defaultMemoryCritical    = 96 * 1024 * 1024 // 96MB
	defaultMaxRequestSize    = 8 * 1024         // 8KiB request cap (spec §4.4)
)

// Config holds every configuration knob the engine consumes.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP origin listener configuration.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ClientIdleTimeout time.Duration `mapstructure:"client_idle_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	MaxRequestSize    ByteSize      `mapstructure:"max_request_size"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

// StreamConfig holds segmentation and playlist-window configuration
// (spec §4.1, §4.3, §6).
type StreamConfig struct {
	VideoCodec      string        `mapstructure:"video_codec"` // h264 or h265
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	MinSegment      time.Duration `mapstructure:"min_segment_duration"`
	MaxSegment      time.Duration `mapstructure:"max_segment_duration"`
	TargetDuration  int           `mapstructure:"target_duration_s"`
	WindowSize      int           `mapstructure:"window_size"` // W
	MaxSegments     int           `mapstructure:"max_segments"`
	QueueSize       int           `mapstructure:"queue_size"`
	PathLength      int           `mapstructure:"path_length"`
	// PathGraceWindow is how long a regenerated-away path keeps answering
	// 410 Gone before falling through to 404 (spec §4.6). Accepts the
	// extended day/week syntax ("2d", "1w") alongside plain Go durations,
	// for operators who want a long grace window while debugging a
	// reconnect-heavy client against a single long-running session.
	PathGraceWindow Duration `mapstructure:"path_grace_window"`
}

// MemoryConfig holds the memory-pressure thresholds the supervisor reacts
// to (spec §4.5).
type MemoryConfig struct {
	HighWater ByteSize `mapstructure:"high_water"`
	Critical  ByteSize `mapstructure:"critical"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from configPath if non-empty, otherwise from a
// config file found on the standard search paths. Environment variables
// prefixed RPTR_ take precedence over the file, and the file over defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rptr")
		v.AddConfigPath("$HOME/.rptr")
	}

	v.SetEnvPrefix("RPTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Call before reading a config file so unset keys still resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.client_idle_timeout", defaultClientIdleTimeout)
	v.SetDefault("server.sweep_interval", defaultSweepInterval)
	v.SetDefault("server.max_request_size", defaultMaxRequestSize)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("stream.video_codec", "h264")
	v.SetDefault("stream.segment_duration", defaultSegmentDuration)
	v.SetDefault("stream.min_segment_duration", defaultMinSegment)
	v.SetDefault("stream.max_segment_duration", defaultMaxSegment)
	v.SetDefault("stream.target_duration_s", defaultTargetDuration)
	v.SetDefault("stream.window_size", defaultWindowSize)
	v.SetDefault("stream.max_segments", defaultMaxSegments)
	v.SetDefault("stream.queue_size", defaultQueueSize)
	v.SetDefault("stream.path_length", defaultPathLength)
	v.SetDefault("stream.path_grace_window", defaultPathGraceWindow)

	v.SetDefault("memory.high_water", defaultMemoryHighWater)
	v.SetDefault("memory.critical", defaultMemoryCritical)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate enforces the cross-field invariants spec §6 names explicitly
// (e.g. window_size must not exceed max_segments, or the playlist could
// ask for more segments than the store retains).
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	switch c.Stream.VideoCodec {
	case "h264", "h265":
	default:
		return fmt.Errorf("stream.video_codec must be one of: h264, h265")
	}

	if c.Stream.MinSegment <= 0 || c.Stream.SegmentDuration <= 0 || c.Stream.MaxSegment <= 0 {
		return fmt.Errorf("stream segment durations must be positive")
	}
	if c.Stream.MinSegment > c.Stream.SegmentDuration || c.Stream.SegmentDuration > c.Stream.MaxSegment {
		return fmt.Errorf("stream durations must satisfy min_segment_duration <= segment_duration <= max_segment_duration")
	}
	if c.Stream.WindowSize < 1 {
		return fmt.Errorf("stream.window_size must be at least 1")
	}
	if c.Stream.MaxSegments < c.Stream.WindowSize {
		return fmt.Errorf("stream.max_segments (%d) must be >= stream.window_size (%d)", c.Stream.MaxSegments, c.Stream.WindowSize)
	}
	if c.Stream.PathLength < 8 {
		return fmt.Errorf("stream.path_length must be at least 8")
	}

	if c.Memory.Critical.Bytes() < c.Memory.HighWater.Bytes() {
		return fmt.Errorf("memory.critical must be >= memory.high_water")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
