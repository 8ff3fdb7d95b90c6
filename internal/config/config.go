package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"camera-inspection/internal/core"
)

// CameraConfig selects and configures the capture device.
type CameraConfig struct {
	Device string `yaml:"device"` // index ("0") or stream URL
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// PipelineConfig holds the startup pipeline parameters.
type PipelineConfig struct {
	BinaryThreshold  int    `yaml:"binary_threshold"`
	ThresholdMethod  string `yaml:"threshold_method"` // fixed | otsu
	BlurKernel       int    `yaml:"blur_kernel"`
	DilateKernel     int    `yaml:"dilate_kernel"`
	ErodeKernel      int    `yaml:"erode_kernel"`
	DilateIterations int    `yaml:"dilate_iterations"`
	ErodeIterations  int    `yaml:"erode_iterations"`
	Mode             string `yaml:"mode"` // full | binary | blur | dilate | erode
}

// LoopConfig paces the capture loop.
type LoopConfig struct {
	ReadRetryMs        int `yaml:"read_retry_ms"`
	FallbackIntervalMs int `yaml:"fallback_interval_ms"`
}

// WebConfig controls the HTTP surface.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// GUIConfig controls the desktop window.
type GUIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config aggregates all application configuration.
type Config struct {
	Camera        CameraConfig   `yaml:"camera"`
	FallbackImage string         `yaml:"fallback_image"`
	SnapshotDir   string         `yaml:"snapshot_dir"`
	Pipeline      PipelineConfig `yaml:"pipeline"`
	Loop          LoopConfig     `yaml:"loop"`
	Web           WebConfig      `yaml:"web"`
	GUI           GUIConfig      `yaml:"gui"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	p := core.DefaultParameters()
	return &Config{
		Camera: CameraConfig{
			Device: "0",
			Width:  1920,
			Height: 1080,
			FPS:    24,
		},
		SnapshotDir: ".",
		Pipeline: PipelineConfig{
			BinaryThreshold:  p.BinaryThreshold,
			ThresholdMethod:  p.ThresholdMethod.String(),
			BlurKernel:       p.BlurKernel,
			DilateKernel:     p.DilateKernel,
			ErodeKernel:      p.ErodeKernel,
			DilateIterations: p.DilateIterations,
			ErodeIterations:  p.ErodeIterations,
			Mode:             p.Mode.String(),
		},
		Loop: LoopConfig{
			ReadRetryMs:        1,
			FallbackIntervalMs: 100,
		},
		Web: WebConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8080",
		},
		GUI: GUIConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section. Pipeline values go through the same checks
// the parameter store applies at runtime.
func (c *Config) Validate() error {
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera width and height must be >= 0, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS < 0 {
		return fmt.Errorf("camera.fps must be >= 0, got %d", c.Camera.FPS)
	}
	if c.Loop.ReadRetryMs <= 0 {
		return fmt.Errorf("loop.read_retry_ms must be > 0, got %d", c.Loop.ReadRetryMs)
	}
	if c.Loop.FallbackIntervalMs <= 0 {
		return fmt.Errorf("loop.fallback_interval_ms must be > 0, got %d", c.Loop.FallbackIntervalMs)
	}
	if c.Web.Enabled && c.Web.Addr == "" {
		return fmt.Errorf("web.addr is required when web is enabled")
	}
	if !c.Web.Enabled && !c.GUI.Enabled {
		return fmt.Errorf("at least one of gui.enabled or web.enabled must be true")
	}
	if _, err := c.Parameters(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// Parameters converts the pipeline section into validated PipelineParameters.
func (c *Config) Parameters() (core.PipelineParameters, error) {
	mode, err := core.ParseMode(c.Pipeline.Mode)
	if err != nil {
		return core.PipelineParameters{}, err
	}
	method, err := core.ParseThresholdMethod(c.Pipeline.ThresholdMethod)
	if err != nil {
		return core.PipelineParameters{}, err
	}
	p := core.PipelineParameters{
		BinaryThreshold:  c.Pipeline.BinaryThreshold,
		ThresholdMethod:  method,
		BlurKernel:       c.Pipeline.BlurKernel,
		DilateKernel:     c.Pipeline.DilateKernel,
		ErodeKernel:      c.Pipeline.ErodeKernel,
		DilateIterations: c.Pipeline.DilateIterations,
		ErodeIterations:  c.Pipeline.ErodeIterations,
		Mode:             mode,
	}
	if err := p.Validate(); err != nil {
		return core.PipelineParameters{}, err
	}
	return p, nil
}

// ReadRetry returns the wait after a missed device read.
func (c *Config) ReadRetry() time.Duration {
	return time.Duration(c.Loop.ReadRetryMs) * time.Millisecond
}

// FallbackInterval returns the re-publish interval in still-image mode.
func (c *Config) FallbackInterval() time.Duration {
	return time.Duration(c.Loop.FallbackIntervalMs) * time.Millisecond
}

// LoopConfig builds the capture loop configuration.
func (c *Config) LoopConfig() core.LoopConfig {
	return core.LoopConfig{
		Device: core.DeviceConfig{
			Device: c.Camera.Device,
			Width:  c.Camera.Width,
			Height: c.Camera.Height,
			FPS:    c.Camera.FPS,
		},
		FallbackImage:     c.FallbackImage,
		ReadRetryInterval: c.ReadRetry(),
		FallbackInterval:  c.FallbackInterval(),
	}
}
