package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type setter func(c *Config, v string) error

func setString(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) setter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) setter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func setList(field func(*Config) *[]string) setter {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
		*field(c) = out
		return nil
	}
}

// envVars maps BARCODE_* variables to config fields.
var envVars = map[string]setter{
	"BARCODE_LOG_LEVEL":          setString(func(c *Config) *string { return &c.LogLevel }),
	"BARCODE_IP":                 setString(func(c *Config) *string { return &c.Server.IP }),
	"BARCODE_PORT":               setInt(func(c *Config) *int { return &c.Server.Port }),
	"BARCODE_SOURCE":             setString(func(c *Config) *string { return &c.Camera.Source }),
	"BARCODE_SENSOR_ID":          setInt(func(c *Config) *int { return &c.Camera.SensorID }),
	"BARCODE_WIDTH":              setInt(func(c *Config) *int { return &c.Camera.CaptureWidth }),
	"BARCODE_HEIGHT":             setInt(func(c *Config) *int { return &c.Camera.CaptureHeight }),
	"BARCODE_DISPLAY_WIDTH":      setInt(func(c *Config) *int { return &c.Camera.DisplayWidth }),
	"BARCODE_DISPLAY_HEIGHT":     setInt(func(c *Config) *int { return &c.Camera.DisplayHeight }),
	"BARCODE_FRAMERATE":          setInt(func(c *Config) *int { return &c.Camera.FrameRate }),
	"BARCODE_FLIP":               setInt(func(c *Config) *int { return &c.Camera.FlipMethod }),
	"BARCODE_WARMUP":             setDuration(func(c *Config) *time.Duration { return &c.Camera.Warmup }),
	"BARCODE_READ_TIMEOUT":       setDuration(func(c *Config) *time.Duration { return &c.Camera.ReadTimeout }),
	"BARCODE_DEVICE":             setString(func(c *Config) *string { return &c.Camera.Device }),
	"BARCODE_URL":                setString(func(c *Config) *string { return &c.Camera.URL }),
	"BARCODE_MAX_READ_FAILURES":  setInt(func(c *Config) *int { return &c.Capture.MaxConsecutiveReadFailures }),
	"BARCODE_EXIT_ON_FAILURE":    setBool(func(c *Config) *bool { return &c.Capture.ExitOnFailure }),
	"BARCODE_SYMBOLOGIES":        setList(func(c *Config) *[]string { return &c.Decoder.Symbologies }),
	"BARCODE_JPEG_QUALITY":       setInt(func(c *Config) *int { return &c.Stream.JPEGQuality }),
	"BARCODE_TELEMETRY_ENABLED":  setBool(func(c *Config) *bool { return &c.Telemetry.Enabled }),
	"BARCODE_TELEMETRY_ENDPOINT": setString(func(c *Config) *string { return &c.Telemetry.Endpoint }),
	"BARCODE_STATS_SCHEDULE":     setString(func(c *Config) *string { return &c.Stats.Schedule }),
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for name, set := range envVars {
		v := getenv(name)
		if v == "" {
			continue
		}
		if err := set(c, v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// registerFlags defines the command-line overrides on fs. Only flags that were
// actually passed are applied, so unset flags never mask file or env values.
func registerFlags(fs *flag.FlagSet) map[string]setter {
	fs.String("ip", "", "ip address to listen on")
	fs.String("i", "", "shorthand for -ip")
	fs.Int("port", 0, "port of the stream server (1024 to 65535)")
	fs.Int("o", 0, "shorthand for -port")
	fs.Int("width", 0, "capture width; the frame width of the libcamera and testpattern sources")
	fs.Int("height", 0, "capture height; the frame height of the libcamera and testpattern sources")
	fs.Int("display-width", 0, "frame width of the gstreamer source")
	fs.Int("display-height", 0, "frame height of the gstreamer source")
	fs.Int("sensor-id", 0, "CSI camera sensor id")
	fs.Int("flip", 0, "nvvidconv flip method")
	fs.Int("framerate", 0, "capture frame rate")
	fs.String("source", "", "frame source: gstreamer, libcamera, mjpeg or testpattern")
	fs.String("url", "", "upstream MJPEG URL for the mjpeg source")
	fs.String("log-level", "", "debug, info, warn or error")

	return map[string]setter{
		"ip":             envVars["BARCODE_IP"],
		"i":              envVars["BARCODE_IP"],
		"port":           envVars["BARCODE_PORT"],
		"o":              envVars["BARCODE_PORT"],
		"width":          envVars["BARCODE_WIDTH"],
		"height":         envVars["BARCODE_HEIGHT"],
		"display-width":  envVars["BARCODE_DISPLAY_WIDTH"],
		"display-height": envVars["BARCODE_DISPLAY_HEIGHT"],
		"sensor-id":      envVars["BARCODE_SENSOR_ID"],
		"flip":           envVars["BARCODE_FLIP"],
		"framerate":      envVars["BARCODE_FRAMERATE"],
		"source":         envVars["BARCODE_SOURCE"],
		"url":            envVars["BARCODE_URL"],
		"log-level":      envVars["BARCODE_LOG_LEVEL"],
	}
}
