package tier

import "strings"

// Identity is the minimal view of an authenticated subject the policy
// needs. It is extracted from the provider's assertion by the
// federation layer.
type Identity struct {
	Subject string
	Email   string
}

// ProviderRules holds the per-provider tier assignment rules.
type ProviderRules struct {
	// Subjects maps exact provider subject identifiers to a tier.
	// Checked first so an operator can pin individual accounts.
	Subjects map[string]Tier

	// EmailDomains maps email domains (without '@') to a tier.
	EmailDomains map[string]Tier
}

// Policy resolves (provider, identity) to a tier. It is stateless and
// safe for concurrent use once built.
type Policy struct {
	rules       map[string]ProviderRules
	defaultTier Tier
}

// PolicyOption modifies a Policy during construction.
type PolicyOption func(*Policy)

// WithDefaultTier overrides the tier assigned when no rule matches.
func WithDefaultTier(t Tier) PolicyOption {
	return func(p *Policy) {
		if t.Valid() {
			p.defaultTier = t
		}
	}
}

// NewPolicy builds a policy from per-provider rules. First-time
// subjects with no matching rule resolve to the default tier (normal).
func NewPolicy(rules map[string]ProviderRules, options ...PolicyOption) *Policy {
	p := &Policy{
		rules:       rules,
		defaultTier: TierNormal,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Resolve returns the tier for an identity authenticated by the named
// provider.
func (p *Policy) Resolve(provider string, identity Identity) Tier {
	rules, ok := p.rules[provider]
	if !ok {
		return p.defaultTier
	}

	if t, ok := rules.Subjects[identity.Subject]; ok && t.Valid() {
		return t
	}

	if domain := emailDomain(identity.Email); domain != "" {
		if t, ok := rules.EmailDomains[domain]; ok && t.Valid() {
			return t
		}
	}

	return p.defaultTier
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
