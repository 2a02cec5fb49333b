package config

import "time"

type SyncConfig interface {
	GetSyncEnabled() bool
	GetDeliveryTimeout() time.Duration
	GetPageOrigin() string
}

type Sync struct{}

var _ SyncConfig = Sync{}

// GetSyncEnabled hosts the extension background router on /sync/ws. Off unless asked for.
func (Sync) GetSyncEnabled() bool {
	return GetEnvBool("SYNC_ENABLED", false)
}

// GetDeliveryTimeout bounds how long a broadcast waits on one peer before skipping it
func (Sync) GetDeliveryTimeout() time.Duration {
	return GetEnvDuration("SYNC_DELIVERY_TIMEOUT", 2*time.Second)
}

func (Sync) GetPageOrigin() string {
	return GetEnv("PAGE_ORIGIN", "http://localhost:5173")
}
