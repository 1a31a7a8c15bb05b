package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/Lumiport-Network/relay/internal/logger"
	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Version is set at runtime from build information
var Version = "dev"

var validate = validator.New()

// Config holds every sub‑config.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"   validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging"   validate:"required"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   validate:"required"`
	Relay     RelayConfig     `mapstructure:"relay"     validate:"required"`
	Access    AccessConfig    `mapstructure:"access"    validate:"required"`
	Directory DirectoryConfig `mapstructure:"directory" validate:"required"`
	Resolver  ResolverConfig  `mapstructure:"resolver"  validate:"required"`
	Trust     TrustConfig     `mapstructure:"trust"     validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"   validate:"required"`
}

func init() {
	registerCustomValidators()
}

var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

// registerCustomValidators registers custom validation functions
func registerCustomValidators() {
	// Validate listen address format: ":port" or "host:port"
	if err := validate.RegisterValidation("listenaddr", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		if addr == "" {
			return false
		}
		if strings.HasPrefix(addr, ":") {
			port := addr[1:]
			if port == "" {
				return false
			}
			_, err := net.LookupPort("tcp", port)
			return err == nil
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return false
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			return false
		}
		if host != "" {
			if ip := net.ParseIP(host); ip == nil && !hostnameRe.MatchString(host) {
				return false
			}
		}
		return true
	}); err != nil {
		logger.Error("Failed to register listenaddr validator", zap.Error(err))
	}

	// Validate hostname or IP
	if err := validate.RegisterValidation("host", func(fl validator.FieldLevel) bool {
		host := fl.Field().String()
		if host == "" {
			return false
		}
		if ip := net.ParseIP(host); ip != nil {
			return true
		}
		return hostnameRe.MatchString(host)
	}); err != nil {
		logger.Error("Failed to register host validator", zap.Error(err))
	}

	// Validate access PIN: 4-8 digits
	if err := validate.RegisterValidation("digit_pin", func(fl validator.FieldLevel) bool {
		pin := fl.Field().String()
		if pin == "" {
			return true // optional field
		}
		matched, _ := regexp.MatchString(`^[0-9]{4,8}$`, pin)
		return matched
	}); err != nil {
		logger.Error("Failed to register digit_pin validator", zap.Error(err))
	}

	// Validate duration is reasonable (not too short or too long)
	if err := validate.RegisterValidation("reasonable_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= time.Second && duration <= 24*time.Hour
	}); err != nil {
		logger.Error("Failed to register reasonable_duration validator", zap.Error(err))
	}

	// Validate timeout duration (shorter range)
	if err := validate.RegisterValidation("timeout_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Interface().(time.Duration)
		return duration >= time.Second && duration <= time.Hour
	}); err != nil {
		logger.Error("Failed to register timeout_duration validator", zap.Error(err))
	}

	// Validate log level
	if err := validate.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		level := fl.Field().String()
		switch level {
		case "debug", "info", "warn", "error", "fatal":
			return true
		}
		return false
	}); err != nil {
		logger.Error("Failed to register log_level validator", zap.Error(err))
	}

	// Validate log format
	if err := validate.RegisterValidation("log_format", func(fl validator.FieldLevel) bool {
		format := fl.Field().String()
		return format == "console" || format == "json"
	}); err != nil {
		logger.Error("Failed to register log_format validator", zap.Error(err))
	}
}

/* ------------------------------------------------------------------ *
|  Public API                                                         |
* -------------------------------------------------------------------*/

// SetVersion sets the version from build information
func SetVersion(v string) {
	Version = v
}

// Load merges defaults → file (optional) → env vars, validates, and returns cfg.
func Load(path string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LUMIPORT") // LUMIPORT_RELAY_LISTEN_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 1. defaults.yaml (embedded)
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	// 2. optional user file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			if log != nil {
				log.Info("No config.yaml found, using defaults")
			}
		} else if log != nil {
			log.Info("Loaded config.yaml from current directory")
		}
	}

	// 3. env already merged by AutomaticEnv()

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}
	if err := crossValidate(&cfg); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("configuration loaded", zap.String("version", Version))
	}
	if err := initializeLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return &cfg, nil
}

// initializeLogger initializes the logger using the LoggingConfig
func initializeLogger(loggingConfig LoggingConfig) error {
	return logger.Init(
		logger.WithLevel(loggingConfig.Level),
		logger.WithFormat(loggingConfig.Format),
		logger.WithFile(loggingConfig.FilePath),
		logger.WithVersion(Version),
		logger.WithComponent("relay"),
		logger.WithRotation(loggingConfig.MaxSize, loggingConfig.MaxBackups, loggingConfig.MaxAge),
	)
}

/* ------------------------------------------------------------------ *
|  Cross‑field validation                                             |
* -------------------------------------------------------------------*/

func crossValidate(cfg *Config) error {
	if cfg.Storage.Backend == "postgres" && cfg.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage.database_url is required when storage.backend is postgres")
	}
	if cfg.Storage.Backend == "file" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage.backend is file")
	}
	if cfg.Access.Mode == "pin" && cfg.Access.PinCode == "" {
		return fmt.Errorf("access.pin_code is required when access.mode is pin")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return fmt.Errorf("configuration validation failed: %w", err)
}

// getFieldErrorMessage returns a user-friendly error message for a field validation error
func getFieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	value := fe.Value()
	tag := fe.Tag()
	param := fe.Param()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required but not provided", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, param, value)
	case "email":
		return fmt.Sprintf("%s must be a valid email address (got: %v)", field, value)
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", field, value)
	case "ip":
		return fmt.Sprintf("%s must be a valid IP address (got: %v)", field, value)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got: %v)", field, param, value)
	case "listenaddr":
		return fmt.Sprintf("%s must be a valid listen address in format ':port' or 'host:port' (got: %v)", field, value)
	case "digit_pin":
		return fmt.Sprintf("%s must be 4 to 8 digits (got: %v)", field, value)
	case "reasonable_duration":
		return fmt.Sprintf("%s must be between 1 second and 24 hours (got: %v)", field, value)
	case "timeout_duration":
		return fmt.Sprintf("%s must be between 1 second and 1 hour (got: %v)", field, value)
	case "log_level":
		return fmt.Sprintf("%s must be one of: debug, info, warn, error, fatal (got: %v)", field, value)
	case "log_format":
		return fmt.Sprintf("%s must be either 'console' or 'json' (got: %v)", field, value)
	case "host":
		return fmt.Sprintf("%s must be a valid hostname or IP address (got: %v)", field, value)
	default:
		return fmt.Sprintf("%s validation failed: %s (got: %v)", field, tag, value)
	}
}
