// Package config holds the settings of the streamer. Values come from defaults,
// an optional YAML file, BARCODE_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wachiwi/barcode-streamer/pkg/decoder"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Capture   CaptureConfig   `yaml:"capture"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	Stream    StreamConfig    `yaml:"stream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Stats     StatsConfig     `yaml:"stats"`
	Beeper    BeeperConfig    `yaml:"beeper"`
	Indicator IndicatorConfig `yaml:"indicator"`
}

type ServerConfig struct {
	IP              string        `yaml:"ip" validate:"required,ip"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// CameraConfig selects and tunes the frame source.
type CameraConfig struct {
	// Source is one of gstreamer, libcamera, mjpeg or testpattern.
	Source        string        `yaml:"source" validate:"oneof=gstreamer libcamera mjpeg testpattern"`
	SensorID      int           `yaml:"sensor_id" validate:"gte=0"`
	CaptureWidth  int           `yaml:"capture_width" validate:"min=1"`
	CaptureHeight int           `yaml:"capture_height" validate:"min=1"`
	DisplayWidth  int           `yaml:"display_width" validate:"min=1"`
	DisplayHeight int           `yaml:"display_height" validate:"min=1"`
	FrameRate     int           `yaml:"frame_rate" validate:"min=1,max=240"`
	FlipMethod    int           `yaml:"flip_method" validate:"min=0,max=7"`
	Warmup        time.Duration `yaml:"warmup" validate:"gte=0"`
	// ReadTimeout bounds a single gstreamer read; 0 derives it from the frame rate.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`
	// Pipeline replaces the generated CSI pipeline of the gstreamer source.
	Pipeline string `yaml:"pipeline"`
	// Device is the V4L2 device or camera index of the libcamera source.
	Device string `yaml:"device"`
	// URL of an upstream MJPEG stream, for the mjpeg source.
	URL         string `yaml:"url" validate:"omitempty,url"`
	TestPayload string `yaml:"test_payload"`
}

type CaptureConfig struct {
	// MaxConsecutiveReadFailures stops capture after that many failed reads in a
	// row; 0 keeps retrying forever.
	MaxConsecutiveReadFailures int `yaml:"max_consecutive_read_failures" validate:"gte=0"`
	// ExitOnFailure shuts the process down when capture fails instead of serving
	// the last frame.
	ExitOnFailure bool `yaml:"exit_on_failure"`
}

type DecoderConfig struct {
	Symbologies []string `yaml:"symbologies" validate:"min=1,dive,symbology"`
	TryHarder   bool     `yaml:"try_harder"`
}

type StreamConfig struct {
	JPEGQuality  int           `yaml:"jpeg_quality" validate:"min=1,max=100"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

type StatsConfig struct {
	// Schedule is a cron spec for the statistics report; empty disables it.
	Schedule string `yaml:"schedule"`
}

type BeeperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SoundFile string        `yaml:"sound_file" validate:"required_if=Enabled true"`
	Cooldown  time.Duration `yaml:"cooldown" validate:"gte=0"`
}

type IndicatorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Chip    string `yaml:"chip" validate:"required_if=Enabled true"`
	LEDLine int    `yaml:"led_line" validate:"gte=0"`
	// ButtonLine is the stop button input; negative disables it.
	ButtonLine int `yaml:"button_line"`
	// Hold keeps the LED lit for a while after the last detection.
	Hold time.Duration `yaml:"hold" validate:"gte=0"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			IP:              "0.0.0.0",
			Port:            8888,
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Source:        "gstreamer",
			SensorID:      0,
			CaptureWidth:  1920,
			CaptureHeight: 1080,
			DisplayWidth:  960,
			DisplayHeight: 540,
			FrameRate:     30,
			FlipMethod:    0,
			Warmup:        2 * time.Second,
			TestPayload:   "barcode-streamer",
		},
		Capture: CaptureConfig{
			MaxConsecutiveReadFailures: 30,
		},
		Decoder: DecoderConfig{
			Symbologies: append([]string(nil), decoder.DefaultSymbologies...),
		},
		Stream: StreamConfig{
			JPEGQuality:  80,
			PollInterval: 10 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "otel-collector:4317",
			ServiceName: "barcode-streamer",
		},
		Stats: StatsConfig{
			Schedule: "@every 1m",
		},
		Beeper: BeeperConfig{
			Cooldown: 2 * time.Second,
		},
		Indicator: IndicatorConfig{
			Chip:       "gpiochip0",
			LEDLine:    17,
			ButtonLine: -1,
			Hold:       500 * time.Millisecond,
		},
	}
}

// Load builds the configuration from args (without the program name) and the
// environment as seen through getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	fs := flag.NewFlagSet("barcode-streamer", flag.ContinueOnError)
	path := fs.String("config", getenv("BARCODE_CONFIG"), "path to a YAML configuration file")
	overrides := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok && err == nil {
			err = apply(cfg, f.Value.String())
		}
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the struct tags and the symbology names.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("symbology", func(fl validator.FieldLevel) bool {
		return decoder.Supported(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register validation: %w", err)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Camera.Source == "mjpeg" && c.Camera.URL == "" {
		return errors.New("invalid configuration: camera.url is required for the mjpeg source")
	}
	return nil
}

// FrameSize returns the size of the frames the source delivers. The gstreamer
// source scales the sensor capture to the display size; the other sources
// deliver frames at the capture size.
func (c CameraConfig) FrameSize() (width, height int) {
	if c.Source == "gstreamer" {
		return c.DisplayWidth, c.DisplayHeight
	}
	return c.CaptureWidth, c.CaptureHeight
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.IP, strconv.Itoa(c.Server.Port))
}
