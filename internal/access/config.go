package access

import "time"

// Mode is the host's access mode. Exactly one is active at a time.
type Mode string

const (
	ModePublic    Mode = "public"
	ModePin       Mode = "pin"
	ModePassword  Mode = "password"
	ModeTwoFactor Mode = "two-factor"
	ModeWhitelist Mode = "whitelist"
)

// ConnectionPin is the independent just-in-time secret a host may
// require from every connecting client regardless of access mode.
type ConnectionPin struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	OneTime   bool       `json:"one_time"`
}

// Config is the persisted access state of one relay host instance.
// The password is stored only as a salted digest, never plaintext.
type Config struct {
	Mode            Mode           `json:"mode"`
	PinCode         string         `json:"pin_code,omitempty"`
	PasswordDigest  []byte         `json:"password_digest,omitempty"`
	TOTPSecret      string         `json:"totp_secret,omitempty"`
	TOTPEnabled     bool           `json:"totp_enabled"`
	AllowList       []string       `json:"allow_list,omitempty"`
	DenyList        []string       `json:"deny_list,omitempty"`
	RequirePin      bool           `json:"require_connection_pin"`
	ConnectionPin   *ConnectionPin `json:"connection_pin,omitempty"`
	PublicWarnShown bool           `json:"public_warn_shown"`
}

// Credentials is what a connecting client submits with its
// authenticate message.
type Credentials struct {
	PIN           string `json:"pin,omitempty"`
	Password      string `json:"password,omitempty"`
	Code          string `json:"code,omitempty"`
	ConnectionPin string `json:"connection_pin,omitempty"`
}

// Decision is the outcome of a verification. Reason is a stable
// client-facing string, set only on deny.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Stable deny reasons surfaced to clients.
const (
	ReasonIPBlocked      = "IP address blocked"
	ReasonIPNotAllowed   = "IP address not allowed"
	ReasonInvalidPIN     = "Invalid PIN"
	ReasonInvalidPass    = "Invalid password"
	ReasonInvalidCode    = "Invalid verification code"
	ReasonInvalidConnPin = "Invalid connection PIN"
	ReasonExpiredConnPin = "Connection PIN expired"
)

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
