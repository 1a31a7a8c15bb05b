package config

import "time"

// DirectoryConfig holds server directory settings.
type DirectoryConfig struct {
	ProbeInterval    time.Duration `mapstructure:"PROBE_INTERVAL"     json:"probe_interval"     validate:"required,reasonable_duration"`
	ProbeTimeout     time.Duration `mapstructure:"PROBE_TIMEOUT"      json:"probe_timeout"      validate:"required,timeout_duration"`
	ProbeConcurrency int           `mapstructure:"PROBE_CONCURRENCY"  json:"probe_concurrency"  validate:"required,min=1,max=256"`
	CommunityListURL string        `mapstructure:"COMMUNITY_LIST_URL" json:"community_list_url" validate:"omitempty,url"`
	Defaults         []ServerSeed  `mapstructure:"DEFAULTS"           json:"defaults"           validate:"required,min=1,dive"`
}

// ServerSeed describes one built-in default relay server. The built-in
// list is immutable at runtime.
type ServerSeed struct {
	Name   string `mapstructure:"NAME"   json:"name"   validate:"required"`
	URL    string `mapstructure:"URL"    json:"url"    validate:"required,url"`
	Region string `mapstructure:"REGION" json:"region" validate:"omitempty"`
}

// ResolverConfig holds web3 address resolution settings. The TLD lists
// and endpoints are deliberately configuration, not constants.
type ResolverConfig struct {
	DoHEndpoint     string        `mapstructure:"DOH_ENDPOINT"     json:"doh_endpoint"     validate:"required,url"`
	RegistryAPIBase string        `mapstructure:"REGISTRY_API"     json:"registry_api"     validate:"required,url"`
	RecordKey       string        `mapstructure:"RECORD_KEY"       json:"record_key"       validate:"required"`
	GatewaySuffix   string        `mapstructure:"GATEWAY_SUFFIX"   json:"gateway_suffix"   validate:"required"`
	ENSTLDs         []string      `mapstructure:"ENS_TLDS"         json:"ens_tlds"         validate:"required,min=1"`
	UnstoppableTLDs []string      `mapstructure:"UNSTOPPABLE_TLDS" json:"unstoppable_tlds" validate:"required,min=1"`
	Timeout         time.Duration `mapstructure:"TIMEOUT"          json:"timeout"          validate:"required,timeout_duration"`
	CacheSize       int           `mapstructure:"CACHE_SIZE"       json:"cache_size"       validate:"required,min=16,max=65536"`
	CacheTTL        time.Duration `mapstructure:"CACHE_TTL"        json:"cache_ttl"        validate:"required,reasonable_duration"`
}

// TrustConfig holds trust registry settings.
type TrustConfig struct {
	RegistryURL     string        `mapstructure:"REGISTRY_URL"     json:"registry_url"     validate:"required,url"`
	ReportThreshold int           `mapstructure:"REPORT_THRESHOLD" json:"report_threshold" validate:"required,min=1,max=1000"`
	BanDuration     time.Duration `mapstructure:"BAN_DURATION"     json:"ban_duration"     validate:"required"`
	Timeout         time.Duration `mapstructure:"TIMEOUT"          json:"timeout"          validate:"required,timeout_duration"`
}

// StorageConfig selects the state store backend. The core only sees an
// opaque get/set interface; the backend is an operator choice.
type StorageConfig struct {
	Backend     string `mapstructure:"BACKEND"      json:"backend"      validate:"required,oneof=memory file postgres"`
	Path        string `mapstructure:"PATH"         json:"path"         validate:"omitempty"`
	DatabaseURL string `mapstructure:"DATABASE_URL" json:"database_url" validate:"omitempty"`
}
