// Package trust computes host verification scores and handles abuse
// reports against the community registry.
package trust

// VerificationLevel buckets a numeric score for display.
type VerificationLevel string

const (
	LevelHighlyTrusted VerificationLevel = "highly-trusted"
	LevelTrusted       VerificationLevel = "trusted"
	LevelVerified      VerificationLevel = "verified"
	LevelBasic         VerificationLevel = "basic"
	LevelUnverified    VerificationLevel = "unverified"
)

// IdentityTier is the strength of the host's identity verification.
// Only the current tier counts toward the score.
type IdentityTier int

const (
	TierNone IdentityTier = iota
	TierBasic
	TierVerified
	TierTrusted
)

// CustomLink is an operator-supplied link on the host profile.
type CustomLink struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	Verified bool   `json:"verified"`
}

// ProviderLink records one linked external identity as handle plus URL.
type ProviderLink struct {
	Handle string `json:"handle"`
	URL    string `json:"url,omitempty"`
}

// VerificationProfile is everything that feeds a host's trust score.
// Provider links carry the handle and URL; a nil link means the
// provider is not connected and contributes nothing.
type VerificationProfile struct {
	Verified     bool         `json:"verified"`
	IdentityTier IdentityTier `json:"identity_tier"`

	Mastodon        *ProviderLink `json:"mastodon,omitempty"`
	Twitter         *ProviderLink `json:"twitter,omitempty"`
	Github          *ProviderLink `json:"github,omitempty"`
	Website         *ProviderLink `json:"website,omitempty"`
	EmailVerified   bool          `json:"email_verified"`
	PGPKeyPublished bool          `json:"pgp_key_published"`

	Organization         string `json:"organization,omitempty"`
	OrganizationVerified bool   `json:"organization_verified"`

	Badges      []string     `json:"badges,omitempty"`
	CustomLinks []CustomLink `json:"custom_links,omitempty"`
}

// Score computes the 0-100 trust score. Contributions are additive and
// the result is capped; the identity tier bonus is not cumulative
// across tiers.
func (p VerificationProfile) Score() int {
	score := 0

	if p.Verified {
		score += 30
	}

	switch p.IdentityTier {
	case TierBasic:
		score += 10
	case TierVerified:
		score += 25
	case TierTrusted:
		score += 40
	}

	if p.Mastodon != nil {
		score += 10
	}
	if p.Twitter != nil {
		score += 5
	}
	if p.Github != nil {
		score += 10
	}
	if p.Website != nil {
		score += 5
	}
	if p.EmailVerified {
		score += 5
	}
	if p.PGPKeyPublished {
		score += 15
	}

	if p.Organization != "" {
		score += 5
		if p.OrganizationVerified {
			score += 15
		}
	}

	score += 5 * len(p.Badges)
	for _, link := range p.CustomLinks {
		if link.Verified {
			score += 5
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Level maps the score to its display bucket.
func (p VerificationProfile) Level() VerificationLevel {
	switch score := p.Score(); {
	case score >= 80:
		return LevelHighlyTrusted
	case score >= 60:
		return LevelTrusted
	case score >= 40:
		return LevelVerified
	case score >= 20:
		return LevelBasic
	default:
		return LevelUnverified
	}
}
