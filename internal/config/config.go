package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration. Values come from defaults,
// then an optional YAML file, then environment variables, in that order.
type Config struct {
	Port           string `yaml:"port"`
	ModelPath      string `yaml:"model_path"`
	MetadataPath   string `yaml:"metadata_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
	DataDir        string `yaml:"data_dir"`
	UploadDir      string `yaml:"upload_dir"`
	ModelDir       string `yaml:"model_dir"`
	ResultsDir     string `yaml:"results_dir"`
	StaticDir      string `yaml:"static_dir"`
	ImageSize      int    `yaml:"image_size"`
	MaxUploadBytes int    `yaml:"max_upload_bytes"`
}

// Default returns a configuration with default values matching the
// expected project layout.
func Default() *Config {
	return &Config{
		Port:           "5000",
		ModelPath:      "models/paradetect.onnx",
		MetadataPath:   "models/paradetect_metadata.json",
		CheckpointPath: "models/paradetect.ckpt",
		DataDir:        "data/cell_images",
		UploadDir:      "uploads",
		ModelDir:       "models",
		ResultsDir:     "results",
		StaticDir:      "web/static",
		ImageSize:      128,
		MaxUploadBytes: 10 << 20,
	}
}

// Load builds the configuration. path may be empty or point to a YAML file;
// a missing file at the default location is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.MetadataPath = getEnv("METADATA_PATH", c.MetadataPath)
	c.CheckpointPath = getEnv("CHECKPOINT_PATH", c.CheckpointPath)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.ResultsDir = getEnv("RESULTS_DIR", c.ResultsDir)

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxUploadBytes = n
		}
	}
}

// Validate checks the configuration for values that would break the
// pipeline at runtime.
func (c *Config) Validate() error {
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", c.ImageSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
