package config

import "time"

// RelayConfig holds relay session engine settings.
type RelayConfig struct {
	Name           string           `mapstructure:"NAME"             json:"name"             validate:"required,min=1,max=30"`
	Description    string           `mapstructure:"DESCRIPTION"      json:"description"      validate:"omitempty,max=200"`
	Contact        string           `mapstructure:"CONTACT"          json:"contact"          validate:"omitempty,email"`
	ListenAddr     string           `mapstructure:"LISTEN_ADDR"      json:"listen_addr"      validate:"required,listenaddr"`
	LinkDomains    []string         `mapstructure:"LINK_DOMAINS"     json:"link_domains"     validate:"required,min=1,dive,host"`
	AuthTimeout    time.Duration    `mapstructure:"AUTH_TIMEOUT"     json:"auth_timeout"     validate:"required,timeout_duration"`
	IdleTimeout    time.Duration    `mapstructure:"IDLE_TIMEOUT"     json:"idle_timeout"     validate:"required,reasonable_duration"`
	MaxMessageSize int64            `mapstructure:"MAX_MESSAGE_SIZE" json:"max_message_size" validate:"required,min=1024,max=33554432"`
	Throttling     ThrottlingConfig `mapstructure:"THROTTLING"       json:"throttling"       validate:"required"`
}

// ThrottlingConfig holds per-connection rate limiting settings.
type ThrottlingConfig struct {
	MaxMessagesPerSecond int `mapstructure:"MAX_MESSAGES_PER_SECOND" json:"max_messages_per_second" validate:"required,min=1,max=10000"`
	BurstSize            int `mapstructure:"BURST_SIZE"              json:"burst_size"              validate:"required,min=1,max=1000"`
	MaxConnections       int `mapstructure:"MAX_CONNECTIONS"         json:"max_connections"         validate:"required,min=1,max=100000"`
}

// AccessConfig bootstraps the access controller the first time a host
// runs; once the controller persists its own state the store copy wins.
type AccessConfig struct {
	Mode            string   `mapstructure:"MODE"              json:"mode"              validate:"required,oneof=public pin password two-factor whitelist"`
	PinCode         string   `mapstructure:"PIN_CODE"          json:"pin_code"          validate:"omitempty,digit_pin"`
	AllowList       []string `mapstructure:"ALLOW_LIST"        json:"allow_list"        validate:"dive,ip"`
	DenyList        []string `mapstructure:"DENY_LIST"         json:"deny_list"         validate:"dive,ip"`
	FailedAuthLimit int      `mapstructure:"FAILED_AUTH_LIMIT" json:"failed_auth_limit" validate:"required,min=1,max=100"`
}
