// Package config loads application settings from defaults, an optional
// config.yaml, a .env file and PLATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	appName    = "plate-reader"
	configName = "config"
	envPrefix  = "PLATE"
)

// OCR backends.
const (
	BackendTesseract   = "tesseract"
	BackendRekognition = "rekognition"
)

// Config holds every tunable of the application.
type Config struct {
	Camera   CameraConfig   `mapstructure:"camera"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Detector DetectorConfig `mapstructure:"detector"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
}

type CameraConfig struct {
	Index       int           `mapstructure:"index"`
	FPS         float64       `mapstructure:"fps"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type CaptureConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	FrameDelay     time.Duration `mapstructure:"frame_delay"`
}

type DetectorConfig struct {
	Model      string        `mapstructure:"model"`
	InputSize  int           `mapstructure:"input_size"`
	Confidence float32       `mapstructure:"confidence"`
	NMS        float32       `mapstructure:"nms"`
	Classes    []int         `mapstructure:"classes"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type OCRConfig struct {
	Backend   string        `mapstructure:"backend"`
	Language  string        `mapstructure:"language"`
	Whitelist string        `mapstructure:"whitelist"`
	Binarize  bool          `mapstructure:"binarize"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// SessionConfig decides which detections are recorded for export.
type SessionConfig struct {
	// LogStillImages also records plates found in user-selected images.
	// Live camera detections are always recorded.
	LogStillImages bool `mapstructure:"log_still_images"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type UIConfig struct {
	HotReload bool `mapstructure:"hot_reload"`
}

// ErrInvalid is returned when a loaded value is out of range.
var ErrInvalid = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("camera.index", 0)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.read_timeout", 2*time.Second)

	v.SetDefault("capture.sample_interval", 500*time.Millisecond)
	v.SetDefault("capture.frame_delay", 10*time.Millisecond)

	v.SetDefault("detector.model", "yolov8n.onnx")
	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.confidence", 0.25)
	v.SetDefault("detector.nms", 0.45)
	v.SetDefault("detector.classes", []int{})
	v.SetDefault("detector.timeout", 5*time.Second)

	v.SetDefault("ocr.backend", BackendTesseract)
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.whitelist", "0123456789ABCDEFGHKLMNPSTUVXYZ-.")
	v.SetDefault("ocr.binarize", true)
	v.SetDefault("ocr.timeout", 5*time.Second)

	v.SetDefault("aws.region", "ap-southeast-1")

	v.SetDefault("session.log_still_images", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("ui.hot_reload", false)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err) // defaults are static
	}
	return cfg
}

// Load reads configuration. A missing config file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, appName))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// LoadFile reads configuration from an explicit file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Camera.Index < 0:
		return fmt.Errorf("%w: camera.index must be >= 0", ErrInvalid)
	case c.Capture.SampleInterval <= 0:
		return fmt.Errorf("%w: capture.sample_interval must be positive", ErrInvalid)
	case c.Capture.FrameDelay < 0:
		return fmt.Errorf("%w: capture.frame_delay must not be negative", ErrInvalid)
	case c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0:
		return fmt.Errorf("%w: detector.input_size must be a positive multiple of 32", ErrInvalid)
	case c.Detector.Confidence < 0 || c.Detector.Confidence > 1:
		return fmt.Errorf("%w: detector.confidence must be within [0,1]", ErrInvalid)
	case c.Detector.NMS < 0 || c.Detector.NMS > 1:
		return fmt.Errorf("%w: detector.nms must be within [0,1]", ErrInvalid)
	}
	switch c.OCR.Backend {
	case BackendTesseract, BackendRekognition:
	default:
		return fmt.Errorf("%w: unknown ocr.backend %q", ErrInvalid, c.OCR.Backend)
	}
	return nil
}
