// Package config provides the configuration schema and loader for the
// companion server.
package config

import "time"

// LogLevel controls log verbosity for the companion server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the companion server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Catalogs  CatalogsConfig  `yaml:"catalogs"`
	Storage   StorageConfig   `yaml:"storage"`
	AutoAudio AutoAudioConfig `yaml:"auto_audio"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// model-backed pipeline stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "deepgram", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini",
	// "nova-3").
	Model string `yaml:"model"`
}

// CatalogsConfig holds credentials for the external audio catalogs. Any
// catalog left unconfigured is simply not searched.
type CatalogsConfig struct {
	// TabletopAudio enables the Tabletop Audio feed. It needs no key.
	TabletopAudio bool `yaml:"tabletop_audio"`

	// JamendoClientID enables Jamendo music search when non-empty.
	JamendoClientID string `yaml:"jamendo_client_id"`

	// FreesoundToken enables Freesound effect search when non-empty.
	FreesoundToken string `yaml:"freesound_token"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Required.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AutoAudioConfig holds server-side defaults for the auto-audio director.
// The DM can override these per session over the control channel.
type AutoAudioConfig struct {
	// Enabled turns the director on by default for new sessions.
	Enabled bool `yaml:"enabled"`

	// EffectFrequency in [0, 1] scales how often detected effects actually
	// fire. Zero means the built-in default of 0.5.
	EffectFrequency float64 `yaml:"effect_frequency"`

	// SceneMusic enables automatic scene music changes.
	SceneMusic bool `yaml:"scene_music"`
}

// SessionConfig holds orchestrator timing knobs.
type SessionConfig struct {
	// PersistInterval is how often the live transcript is flushed to
	// storage. Zero means the built-in default of 30s.
	PersistInterval time.Duration `yaml:"persist_interval"`
}
