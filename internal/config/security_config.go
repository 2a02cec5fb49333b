package config

type SecurityConfig interface {
	GetEnableRateLimiting() bool
	GetRateLimitPerSecond() float64
	GetRateLimitBurst() int
	GetEnforcePasswordPolicy() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetEnableRateLimiting() bool {
	return GetEnvBool("RATE_LIMIT_ENABLED", true)
}

// GetRateLimitPerSecond applies per authenticated user on the chat endpoints
func (Security) GetRateLimitPerSecond() float64 {
	return GetEnvFloat("RATE_LIMIT_RPS", 1)
}

func (Security) GetRateLimitBurst() int {
	return GetEnvInt("RATE_LIMIT_BURST", 5)
}

// GetEnforcePasswordPolicy checks sign-up passwords locally before the provider sees
// them. Off by default, the provider's own policy decides.
func (Security) GetEnforcePasswordPolicy() bool {
	return GetEnvBool("PASSWORD_POLICY_ENABLED", false)
}
