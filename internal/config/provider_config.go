package config

// ProviderConfig describes the external identity provider (a Supabase Auth compatible service)
type ProviderConfig interface {
	GetProviderURL() string
	GetProviderAnonKey() string
	GetJWTSecret() string
	GetJWKSURL() string
	GetTokenIssuer() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

// GetProviderURL returns the auth API root, e.g. https://<project>.supabase.co/auth/v1
func (Provider) GetProviderURL() string {
	if u := GetEnv("AUTH_URL", ""); u != "" {
		return u
	}
	if u := GetEnv("SUPABASE_URL", ""); u != "" {
		return u + "/auth/v1"
	}
	return ""
}

func (Provider) GetProviderAnonKey() string {
	return GetEnv("SUPABASE_ANON_KEY", "")
}

// GetJWTSecret enables local HS256 verification of bearer tokens when set
func (Provider) GetJWTSecret() string {
	return GetEnv("SUPABASE_JWT_SECRET", "")
}

// GetJWKSURL enables verification against the provider's published signing keys when set
func (Provider) GetJWKSURL() string {
	return GetEnv("AUTH_JWKS_URL", "")
}

func (p Provider) GetTokenIssuer() string {
	return GetEnv("AUTH_ISSUER", p.GetProviderURL())
}
