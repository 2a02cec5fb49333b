package config

import "time"

type LLMConfig interface {
	GetLLMBaseURL() string
	GetLLMAPIKey() string
	GetLLMModel() string
	GetLLMSiteURL() string
	GetLLMAppTitle() string
	GetLLMTemperature() float64
	GetLLMMaxTokens() int
	GetLLMAttempts() int
	GetLLMTimeout() time.Duration
	GetHistoryLimit() int
}

type LLM struct{}

var _ LLMConfig = LLM{}

func (LLM) GetLLMBaseURL() string {
	return GetEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
}

func (LLM) GetLLMAPIKey() string {
	return GetEnv("OPENROUTER_API_KEY", "")
}

func (LLM) GetLLMModel() string {
	return GetEnv("OPENROUTER_MODEL", "openrouter/auto")
}

func (LLM) GetLLMSiteURL() string {
	return GetEnv("OPENROUTER_SITE_URL", "")
}

func (LLM) GetLLMAppTitle() string {
	return GetEnv("OPENROUTER_APP_TITLE", "Supabase Chat")
}

func (LLM) GetLLMTemperature() float64 {
	return GetEnvFloat("OPENROUTER_TEMPERATURE", 0.2)
}

func (LLM) GetLLMMaxTokens() int {
	return GetEnvInt("OPENROUTER_MAX_TOKENS", 512)
}

func (LLM) GetLLMAttempts() int {
	return GetEnvInt("OPENROUTER_ATTEMPTS", 2)
}

func (LLM) GetLLMTimeout() time.Duration {
	return GetEnvDuration("OPENROUTER_TIMEOUT", 60*time.Second)
}

// GetHistoryLimit is the number of stored messages sent upstream with each prompt
func (LLM) GetHistoryLimit() int {
	return GetEnvInt("CHAT_HISTORY_LIMIT", 20)
}
