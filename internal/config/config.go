package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultQuality     = 80
	defaultConcurrency = 5
	maxConcurrency     = 10
)

type Config struct {
	Compression CompressionConfig `mapstructure:"compression" json:"compression"`
	Upload      UploadConfig      `mapstructure:"upload" json:"upload"`
	Paths       PathsConfig       `mapstructure:"paths" json:"paths"`
	Logging     LoggingConfig     `mapstructure:"logging" json:"logging"`
}

type CompressionConfig struct {
	Quality        int    `mapstructure:"quality" json:"quality"`
	ConvertToWebP  bool   `mapstructure:"convert_to_webp" json:"convert_to_webp"`
	EnableOnUpload bool   `mapstructure:"enable_upload_compression" json:"enable_upload_compression"`
	CodecPath      string `mapstructure:"codec_path" json:"codec_path"`
}

type UploadConfig struct {
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" json:"max_concurrent_uploads"`
}

type PathsConfig struct {
	BuiltinPluginDir string `mapstructure:"builtin_plugin_dir" json:"builtin_plugin_dir"`
	UserPluginDir    string `mapstructure:"user_plugin_dir" json:"user_plugin_dir"`
	DataDir          string `mapstructure:"data_dir" json:"data_dir"`
	ConfigDir        string `mapstructure:"config_dir" json:"config_dir"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level" json:"level"`
	Output   string `mapstructure:"output" json:"output"`
	FilePath string `mapstructure:"file_path" json:"file_path"`
}

type ConfigLoader struct {
	logger *zap.Logger
	v      *viper.Viper
}

func NewConfigLoader(logger *zap.Logger) *ConfigLoader {
	v := viper.New()
	v.SetConfigType("yaml")
	return &ConfigLoader{logger: logger, v: v}
}

func (cl *ConfigLoader) Load(filePath string) (*Config, error) {
	cl.v.SetConfigFile(filePath)
	if err := cl.v.ReadInConfig(); err != nil {
		cl.logger.Error("Failed to read config file", zap.String("file", filePath), zap.Error(err))
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := cl.v.Unmarshal(&cfg); err != nil {
		cl.logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cl.validate(&cfg); err != nil {
		cl.logger.Error("Config validation failed", zap.Error(err))
		return nil, err
	}

	cl.logger.Info("Config loaded successfully", zap.String("file", filePath))
	return &cfg, nil
}

func (cl *ConfigLoader) validate(cfg *Config) error {
	if cfg.Compression.Quality <= 0 {
		cfg.Compression.Quality = defaultQuality
	}
	if cfg.Compression.Quality > 100 {
		cfg.Compression.Quality = 100
	}

	if cfg.Upload.MaxConcurrentUploads == 0 {
		cfg.Upload.MaxConcurrentUploads = defaultConcurrency
	}
	if cfg.Upload.MaxConcurrentUploads < 1 {
		cfg.Upload.MaxConcurrentUploads = 1
	}
	if cfg.Upload.MaxConcurrentUploads > maxConcurrency {
		cfg.Upload.MaxConcurrentUploads = maxConcurrency
	}

	if cfg.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if cfg.Paths.ConfigDir == "" {
		cfg.Paths.ConfigDir = cfg.Paths.DataDir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if !isValidLogLevel(cfg.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("file_path required for file logging")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
