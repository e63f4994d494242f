package domain

import "fmt"

// AuthScheme is the closed set of ways a provider authenticates forwarded
// requests.
type AuthScheme string

const (
	AuthSchemeAPIKey AuthScheme = "x-api-key"
	AuthSchemeBearer AuthScheme = "bearer"
	AuthSchemeCustom AuthScheme = "custom"
)

// CostTier is the closed set of billing tiers a provider can be tagged
// with. The pool's provider filter treats untagged credentials as eligible
// only for the default provider as a cost-safety measure.
type CostTier string

const (
	CostTierFree    CostTier = "free"
	CostTierMetered CostTier = "metered"
	CostTierPremium CostTier = "premium"
)

func (s AuthScheme) Validate() error {
	switch s {
	case AuthSchemeAPIKey, AuthSchemeBearer, AuthSchemeCustom:
		return nil
	default:
		return fmt.Errorf("unknown auth scheme: %s", s)
	}
}

func (t CostTier) Validate() error {
	switch t {
	case CostTierFree, CostTierMetered, CostTierPremium:
		return nil
	default:
		return fmt.Errorf("unknown cost tier: %s", t)
	}
}

// Provider is a named upstream target: host, base path, protocol, auth
// scheme and cost tier, plus any headers that must always accompany
// forwarded requests.
type Provider struct {
	Name             string
	TargetHost       string
	TargetBasePath   string
	TargetProtocol   string
	AuthScheme       AuthScheme
	CustomAuthHeader string
	CostTier         CostTier
	ExtraHeaders     map[string]string
}

func (p *Provider) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p.TargetHost == "" {
		return fmt.Errorf("provider %s: target host is required", p.Name)
	}
	if err := p.AuthScheme.Validate(); err != nil {
		return fmt.Errorf("provider %s: %w", p.Name, err)
	}
	if p.AuthScheme == AuthSchemeCustom && p.CustomAuthHeader == "" {
		return fmt.Errorf("provider %s: custom auth scheme requires a header name", p.Name)
	}
	if err := p.CostTier.Validate(); err != nil {
		return fmt.Errorf("provider %s: %w", p.Name, err)
	}
	if p.TargetProtocol == "" {
		p.TargetProtocol = "https:"
	}
	return nil
}

// TargetURL builds the base upstream URL for this provider: protocol + host
// + base path, to which the dispatcher appends the client's request path.
func (p *Provider) TargetURL() string {
	return p.TargetProtocol + "//" + p.TargetHost + p.TargetBasePath
}

// AuthHeader is the name/value pair formatAuthHeader produces for a given
// secret, per the provider's auth scheme.
type AuthHeader struct {
	Name  string
	Value string
}

func (p *Provider) FormatAuthHeader(secret string) AuthHeader {
	switch p.AuthScheme {
	case AuthSchemeBearer:
		return AuthHeader{Name: "Authorization", Value: "Bearer " + secret}
	case AuthSchemeCustom:
		return AuthHeader{Name: p.CustomAuthHeader, Value: secret}
	default:
		return AuthHeader{Name: "x-api-key", Value: secret}
	}
}

// ModelMappingEntry resolves a client-declared model name to a target model
// and, optionally, a named provider. A nil/empty Provider means "use the
// default provider".
type ModelMappingEntry struct {
	TargetModel string
	Provider    string
}

// ResolvedRoute is what Registry.Resolve returns: a provider name and the
// rewritten target model. Resolve does not check that the named provider is
// configured; callers look the provider up and fail when it is absent.
type ResolvedRoute struct {
	ProviderName string
	TargetModel  string
}

// ProviderFilter is what AcquireKey matches candidates against: the
// provider the request is actually headed to, and whether that provider is
// the configured default. An untagged credential (Credential.Provider ==
// "") is eligible only when IsDefault is true - the cost-safety rule that
// keeps a key dropped into the pool with no provider tag from silently
// reaching a metered provider it was never meant for. A tagged credential
// is eligible only for the provider it names.
type ProviderFilter struct {
	Name      string
	IsDefault bool
}
