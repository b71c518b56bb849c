// Package config loads the demoreel configuration.
//
// Values are applied in order: built-in defaults, the YAML file, then
// DEMOREEL_SECTION_KEY environment variables such as DEMOREEL_TYPING_WPM or
// DEMOREEL_MQTT_PASSWORD.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Typing    TypingConfig    `yaml:"typing"`
	Display   DisplayConfig   `yaml:"display"`
	App       AppConfig       `yaml:"app"`
	Input     InputConfig     `yaml:"input"`
	Vision    VisionConfig    `yaml:"vision"`
	Recording RecordingConfig `yaml:"recording"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TypingConfig struct {
	// WPM is the starting rate and the rate restore_rate returns to.
	WPM float64 `yaml:"wpm"`
	// Seed fixes the keystroke jitter. 0 picks a new seed every run.
	Seed uint64 `yaml:"seed"`
}

type DisplayConfig struct {
	// Managed starts a private Xvfb. Otherwise DISPLAY from the
	// environment is used as is.
	Managed     bool   `yaml:"managed"`
	Number      uint   `yaml:"number"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Xvfb        string `yaml:"xvfb"`
	BannerBytes int    `yaml:"banner_bytes"`
}

type AppConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"workdir"`
	// ReadyTemplate, when set, is waited for before the scene starts.
	ReadyTemplate string        `yaml:"ready_template"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	GracePeriod   time.Duration `yaml:"grace_period"`
}

type InputConfig struct {
	Xdotool string `yaml:"xdotool"`
}

type VisionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Tolerance    int           `yaml:"tolerance"`
	ScratchDir   string        `yaml:"scratch_dir"`
	FFmpeg       string        `yaml:"ffmpeg"`
	Png2pat      string        `yaml:"png2pat"`
	Visgrep      string        `yaml:"visgrep"`
}

type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Output    string `yaml:"output"`
	Framerate int    `yaml:"framerate"`
	FFmpeg    string `yaml:"ffmpeg"`
	FFprobe   string `yaml:"ffprobe"`
	// ClicksDir holds key click samples. Empty disables the soundtrack.
	ClicksDir    string `yaml:"clicks_dir"`
	ClicksOutput string `yaml:"clicks_output"`
}

type CleanupConfig struct {
	// Paths are removed before the scene starts if they exist.
	Paths []string `yaml:"paths"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ResolverConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Addr     string            `yaml:"addr"`
	Hosts    map[string]string `yaml:"hosts"`
	Loopback string            `yaml:"loopback"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Typing: TypingConfig{WPM: 80},
		Display: DisplayConfig{
			Managed:     true,
			Number:      99,
			Width:       1280,
			Height:      720,
			BannerBytes: 1172,
		},
		App: AppConfig{
			ReadyTimeout: 30 * time.Second,
			GracePeriod:  5 * time.Second,
		},
		Vision: VisionConfig{
			PollInterval: 250 * time.Millisecond,
			Tolerance:    0,
		},
		Recording: RecordingConfig{
			Output:       "demoreel.webm",
			Framerate:    30,
			ClicksOutput: "demoreel-clicks.mp3",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "./data/demoreel.db",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "demoreel",
			QoS:         1,
			TopicPrefix: "demoreel",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "demoreel",
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		Resolver: ResolverConfig{
			Addr: ":53",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

type lookupEnv func(string) (string, bool)

func applyEnvOverrides(cfg *Config, lookup lookupEnv) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %s", key, err))
				return
			}
			*dst = b
		}
	}

	if v, ok := lookup("DEMOREEL_TYPING_WPM"); ok && v != "" {
		wpm, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DEMOREEL_TYPING_WPM: %s", err))
		} else {
			cfg.Typing.WPM = wpm
		}
	}
	if v, ok := lookup("DEMOREEL_TYPING_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DEMOREEL_TYPING_SEED: %s", err))
		} else {
			cfg.Typing.Seed = seed
		}
	}
	if v, ok := lookup("DEMOREEL_DISPLAY_NUMBER"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DEMOREEL_DISPLAY_NUMBER: %s", err))
		} else {
			cfg.Display.Number = uint(n)
		}
	}
	boolean("DEMOREEL_DISPLAY_MANAGED", &cfg.Display.Managed)
	str("DEMOREEL_APP_COMMAND", &cfg.App.Command)
	boolean("DEMOREEL_RECORDING_ENABLED", &cfg.Recording.Enabled)
	str("DEMOREEL_RECORDING_OUTPUT", &cfg.Recording.Output)
	boolean("DEMOREEL_JOURNAL_ENABLED", &cfg.Journal.Enabled)
	str("DEMOREEL_JOURNAL_PATH", &cfg.Journal.Path)
	boolean("DEMOREEL_MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("DEMOREEL_MQTT_BROKER", &cfg.MQTT.Broker)
	str("DEMOREEL_MQTT_USERNAME", &cfg.MQTT.Username)
	str("DEMOREEL_MQTT_PASSWORD", &cfg.MQTT.Password)
	boolean("DEMOREEL_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	str("DEMOREEL_INFLUXDB_URL", &cfg.InfluxDB.URL)
	str("DEMOREEL_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("DEMOREEL_LOGGING_LEVEL", &cfg.Logging.Level)
	str("DEMOREEL_LOGGING_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !(c.Typing.WPM > 0) {
		errs = append(errs, "typing.wpm must be positive")
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, "display.width and display.height must be positive")
	}
	if c.App.ReadyTemplate != "" && c.App.Command == "" {
		errs = append(errs, "app.ready_template needs app.command")
	}
	if c.App.ReadyTimeout < 0 {
		errs = append(errs, "app.ready_timeout must not be negative")
	}
	if c.Vision.PollInterval <= 0 {
		errs = append(errs, "vision.poll_interval must be positive")
	}
	if c.Vision.Tolerance < 0 {
		errs = append(errs, "vision.tolerance must not be negative")
	}
	if c.Recording.Enabled && c.Recording.Output == "" {
		errs = append(errs, "recording.output is required when recording is enabled")
	}
	if c.Recording.Framerate <= 0 {
		errs = append(errs, "recording.framerate must be positive")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Resolver.Enabled && c.Resolver.Addr == "" {
		errs = append(errs, "resolver.addr is required when the resolver is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not json or text", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
