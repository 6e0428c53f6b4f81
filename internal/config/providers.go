package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/authface/authface/federation"
	"github.com/authface/authface/tier"
)

// ProvidersFile is the YAML document describing the configured identity
// providers and the tier rules applied to identities they assert.
//
//	providers:
//	  - name: github
//	    client_id: ...
//	    client_secret: ...
//	    auth_url: https://github.com/login/oauth/authorize
//	    token_url: https://github.com/login/oauth/access_token
//	    userinfo_url: https://api.github.com/user
//	    redirect_url: http://localhost:8080/callback/github
//	    use_pkce: true
//	tiers:
//	  github:
//	    subjects:
//	      "77": admin
//	    email_domains:
//	      company.com: preferred
type ProvidersFile struct {
	Providers []federation.ProviderConfig `yaml:"providers"`
	Tiers     map[string]tierRules        `yaml:"tiers"`
}

type tierRules struct {
	Subjects     map[string]string `yaml:"subjects"`
	EmailDomains map[string]string `yaml:"email_domains"`
}

// LoadProvidersFile reads and validates the providers document.
func LoadProvidersFile(path string) (ProvidersFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProvidersFile{}, errors.Wrap(err, "[LoadProvidersFile] reading file")
	}
	return ParseProvidersFile(raw)
}

// ParseProvidersFile parses the YAML document and rejects tier names
// that are not part of the tier order.
func ParseProvidersFile(raw []byte) (ProvidersFile, error) {
	var file ProvidersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return ProvidersFile{}, errors.Wrap(err, "[ParseProvidersFile] parsing yaml")
	}
	if len(file.Providers) == 0 {
		return ProvidersFile{}, errors.New("[ParseProvidersFile] no providers configured")
	}
	for provider, rules := range file.Tiers {
		for subject, name := range rules.Subjects {
			if !tier.Tier(name).Valid() {
				return ProvidersFile{}, errors.Errorf("[ParseProvidersFile] provider %q subject %q: unknown tier %q", provider, subject, name)
			}
		}
		for domain, name := range rules.EmailDomains {
			if !tier.Tier(name).Valid() {
				return ProvidersFile{}, errors.Errorf("[ParseProvidersFile] provider %q domain %q: unknown tier %q", provider, domain, name)
			}
		}
	}
	return file, nil
}

// TierRules converts the parsed tier section into policy rules.
func (f ProvidersFile) TierRules() map[string]tier.ProviderRules {
	rules := make(map[string]tier.ProviderRules, len(f.Tiers))
	for provider, raw := range f.Tiers {
		converted := tier.ProviderRules{
			Subjects:     make(map[string]tier.Tier, len(raw.Subjects)),
			EmailDomains: make(map[string]tier.Tier, len(raw.EmailDomains)),
		}
		for subject, name := range raw.Subjects {
			converted.Subjects[subject] = tier.Tier(name)
		}
		for domain, name := range raw.EmailDomains {
			converted.EmailDomains[domain] = tier.Tier(name)
		}
		rules[provider] = converted
	}
	return rules
}
