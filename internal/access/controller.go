// Package access implements the per-connection authentication state of
// a relay host: five access modes plus the independent connection PIN.
package access

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"regexp"
	"sync"

	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var pinRe = regexp.MustCompile(`^[0-9]{4,8}$`)

// totpOpts is the interoperable TOTP variant: RFC 6238, SHA-1, 30s
// step, 6 digits. Skew 1 accepts the current step and both adjacent
// steps, tolerating clock drift.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Controller holds and verifies the access configuration of one host.
// Verification runs per incoming connection; mutation is host-only.
type Controller struct {
	st     store.Store
	clk    clock.Clock
	log    *zap.Logger
	issuer string

	mu  sync.Mutex
	cfg Config
}

// NewController loads the persisted access config, falling back to the
// given bootstrap when none is stored yet.
func NewController(ctx context.Context, st store.Store, clk clock.Clock, issuer string, bootstrap Config) (*Controller, error) {
	c := &Controller{
		st:     st,
		clk:    clk,
		log:    logger.New("access"),
		issuer: issuer,
		cfg:    bootstrap,
	}
	if c.cfg.Mode == "" {
		c.cfg.Mode = ModePublic
	}

	raw, ok, err := st.Get(ctx, store.KeyAccessConfig)
	if err != nil {
		return nil, apperrors.StorageError("load access config", err)
	}
	if ok {
		var stored Config
		if err := json.Unmarshal(raw, &stored); err != nil {
			c.log.Warn("Stored access config is corrupt, using bootstrap", zap.Error(err))
		} else {
			c.cfg = stored
		}
	}
	return c, nil
}

// Snapshot returns a copy of the current configuration with the
// password digest and TOTP secret redacted.
func (c *Controller) Snapshot() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg
	cfg.PasswordDigest = nil
	cfg.TOTPSecret = ""
	return cfg
}

// Mode returns the active access mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Mode
}

// ConnectionPinRequired reports whether the independent connection PIN
// is currently enforced.
func (c *Controller) ConnectionPinRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.RequirePin && c.cfg.ConnectionPin != nil
}

/* ------------------------------------------------------------------ *
|  Verification                                                       |
* -------------------------------------------------------------------*/

// Verify checks a connection attempt against the configured mode. The
// deny-list always wins, regardless of mode.
func (c *Controller) Verify(creds Credentials, clientIP string) Decision {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if containsIP(cfg.DenyList, clientIP) {
		return deny(ReasonIPBlocked)
	}

	switch cfg.Mode {
	case ModeWhitelist:
		if containsIP(cfg.AllowList, clientIP) {
			return allow()
		}
		return deny(ReasonIPNotAllowed)

	case ModePublic:
		return allow()

	case ModePin:
		if creds.PIN != "" && subtle.ConstantTimeCompare([]byte(creds.PIN), []byte(cfg.PinCode)) == 1 {
			return allow()
		}
		return deny(ReasonInvalidPIN)

	case ModePassword:
		if verifyPassword(cfg.PasswordDigest, creds.Password) {
			return allow()
		}
		return deny(ReasonInvalidPass)

	case ModeTwoFactor:
		// A password is optional in two-factor mode; when one is
		// configured it is checked before the code.
		if len(cfg.PasswordDigest) > 0 && !verifyPassword(cfg.PasswordDigest, creds.Password) {
			return deny(ReasonInvalidPass)
		}
		if c.verifyTOTP(cfg.TOTPSecret, creds.Code) {
			return allow()
		}
		return deny(ReasonInvalidCode)
	}

	return deny(ReasonInvalidPIN)
}

func verifyPassword(digest []byte, password string) bool {
	if len(digest) == 0 || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(digest, []byte(password)) == nil
}

func (c *Controller) verifyTOTP(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, c.clk.Now().UTC(), totpOpts)
	return err == nil && ok
}

// VerifyConnectionPin checks the independent connection PIN. Only
// enforced when the host requires it; expiry is checked before
// equality, and a one-time PIN is rotated after a successful use.
func (c *Controller) VerifyConnectionPin(ctx context.Context, submitted string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.RequirePin || c.cfg.ConnectionPin == nil {
		return allow()
	}

	pin := c.cfg.ConnectionPin
	if pin.ExpiresAt != nil && c.clk.Now().After(*pin.ExpiresAt) {
		return deny(ReasonExpiredConnPin)
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(pin.Value)) != 1 {
		return deny(ReasonInvalidConnPin)
	}

	if pin.OneTime {
		fresh := generatePin(len(pin.Value))
		c.cfg.ConnectionPin = &ConnectionPin{
			Value:     fresh,
			ExpiresAt: pin.ExpiresAt,
			OneTime:   true,
		}
		if err := c.persistLocked(ctx); err != nil {
			c.log.Error("Failed to persist rotated connection PIN", zap.Error(err))
		}
		c.log.Info("One-time connection PIN rotated")
	}
	return allow()
}

/* ------------------------------------------------------------------ *
|  Operator actions                                                   |
* -------------------------------------------------------------------*/

// SetPinCode switches the host to PIN mode with a 4-8 digit PIN.
func (c *Controller) SetPinCode(ctx context.Context, pin string) error {
	if !pinRe.MatchString(pin) {
		return apperrors.ConfigurationError("pin_code", "PIN must be 4 to 8 digits")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Mode = ModePin
	c.cfg.PinCode = pin
	return c.persistLocked(ctx)
}

// SetPassword switches the host to password mode. The password is
// stored as a bcrypt digest only.
func (c *Controller) SetPassword(ctx context.Context, password string) error {
	if len(password) < 4 {
		return apperrors.ConfigurationError("password", "password must be at least 4 characters")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return apperrors.InternalError("hash password", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Mode = ModePassword
	c.cfg.PasswordDigest = digest
	return c.persistLocked(ctx)
}

// TwoFactorSetup is handed to the operator once when 2FA is enabled.
type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURL string `json:"provisioning_url"`
}

// Enable2FA generates a fresh 20-byte TOTP secret and returns it with
// an otpauth:// URL for authenticator apps.
func (c *Controller) Enable2FA(ctx context.Context, accountName string) (*TwoFactorSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      c.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, apperrors.InternalError("generate TOTP secret", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Mode = ModeTwoFactor
	c.cfg.TOTPSecret = key.Secret()
	c.cfg.TOTPEnabled = true
	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: key.Secret(), ProvisioningURL: key.URL()}, nil
}

// Disable2FA clears the TOTP secret and drops back to public mode.
func (c *Controller) Disable2FA(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.TOTPSecret = ""
	c.cfg.TOTPEnabled = false
	if c.cfg.Mode == ModeTwoFactor {
		c.cfg.Mode = ModePublic
	}
	return c.persistLocked(ctx)
}

// SetPublic switches to public mode. The public-warning flag resets so
// the operator is re-warned on next start.
func (c *Controller) SetPublic(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Mode = ModePublic
	c.cfg.PublicWarnShown = false
	return c.persistLocked(ctx)
}

// SetPrivate switches to whitelist mode.
func (c *Controller) SetPrivate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Mode = ModeWhitelist
	return c.persistLocked(ctx)
}

// SetAllowList replaces the IP allow-list.
func (c *Controller) SetAllowList(ctx context.Context, ips []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AllowList = append([]string(nil), ips...)
	return c.persistLocked(ctx)
}

// SetDenyList replaces the IP deny-list.
func (c *Controller) SetDenyList(ctx context.Context, ips []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DenyList = append([]string(nil), ips...)
	return c.persistLocked(ctx)
}

// RequireConnectionPin turns the independent connection PIN on with
// the given value, or off when pin is nil.
func (c *Controller) RequireConnectionPin(ctx context.Context, pin *ConnectionPin) error {
	if pin != nil && !pinRe.MatchString(pin.Value) {
		return apperrors.ConfigurationError("connection_pin", "PIN must be 4 to 8 digits")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.RequirePin = pin != nil
	c.cfg.ConnectionPin = pin
	return c.persistLocked(ctx)
}

// MarkPublicWarningShown records that the operator saw the warning.
func (c *Controller) MarkPublicWarningShown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.PublicWarnShown = true
	return c.persistLocked(ctx)
}

// PublicWarningPending reports whether the operator still needs the
// public-mode warning.
func (c *Controller) PublicWarningPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Mode == ModePublic && !c.cfg.PublicWarnShown
}

/* ------------------------------------------------------------------ *
|  Helpers                                                            |
* -------------------------------------------------------------------*/

func (c *Controller) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(c.cfg)
	if err != nil {
		return apperrors.StorageError("encode access config", err)
	}
	if err := c.st.Set(ctx, store.KeyAccessConfig, raw); err != nil {
		return apperrors.StorageError("persist access config", err)
	}
	return nil
}

func containsIP(list []string, ip string) bool {
	for _, entry := range list {
		if entry == ip {
			return true
		}
	}
	return false
}

// generatePin returns a fresh random PIN of the given digit length.
func generatePin(length int) string {
	if length < 4 {
		length = 4
	}
	digits := make([]byte, length)
	buf := make([]byte, length)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits)
}
