package config

// GeneralConfig holds settings that do not belong to a single component.
type GeneralConfig struct {
	DataDir string `mapstructure:"DATA_DIR" json:"data_dir" validate:"required"`
}
