package config

import (
	"os"
	"strconv"
	"time"

	"github.com/bobarin/montage/internal/models"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool   // Runs the feedback consumer alongside the API
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database (optional run archive)
	DatabaseURL string

	// Redis (optional regenerate queue + status stream)
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// xAI (video generation via Grok Imagine Video)
	XAIEnabled bool
	XAIAPIKey  string
	XAIModel   string

	// Veo (video generation via the Gemini API)
	VeoEnabled bool
	GeminiKey  string
	VeoModel   string

	// OpenAI (still images)
	OpenAIImageEnabled bool
	OpenAIKey          string

	// ElevenLabs (narration)
	ElevenLabsEnabled bool
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Path to a YAML capability table overriding the built-in one
	ProviderTablePath string

	Orchestrator OrchestratorConfig
	Timeline     TimelineConfig
	Audio        AudioConfig
}

type OrchestratorConfig struct {
	Workers         int // 0 = two per distinct provider
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollFactor      float64
	PollDeadline    time.Duration
}

type TimelineConfig struct {
	FPS                   int
	Width                 int
	Height                int
	EndCardSec            float64
	EndCardURI            string
	DefaultTransitionSec  float64
	DefaultTransitionType models.TransitionType
}

type AudioConfig struct {
	MusicVolume float64 // V0
	DuckVolume  float64 // Vd
	RampIn      time.Duration
	RampOut     time.Duration
	VoiceVolume float64
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "montage-media"),
		XAIEnabled:            getEnvBool("XAI_VIDEO_ENABLED", false),
		XAIAPIKey:             getEnv("XAI_API_KEY", ""),
		XAIModel:              getEnv("XAI_VIDEO_MODEL", "grok-imagine-video"),
		VeoEnabled:            getEnvBool("VEO_ENABLED", false),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		VeoModel:              getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		OpenAIImageEnabled:    getEnvBool("OPENAI_IMAGE_ENABLED", false),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		ElevenLabsEnabled:     getEnvBool("ELEVENLABS_ENABLED", false),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		ProviderTablePath:     getEnv("PROVIDER_TABLE_PATH", ""),
		Orchestrator: OrchestratorConfig{
			Workers:         getEnvInt("ORCHESTRATOR_WORKERS", 0),
			MaxRetries:      getEnvInt("ORCHESTRATOR_MAX_RETRIES", 2),
			BackoffBase:     getEnvDuration("ORCHESTRATOR_BACKOFF_BASE", 2*time.Second),
			BackoffMax:      getEnvDuration("ORCHESTRATOR_BACKOFF_MAX", 30*time.Second),
			PollInterval:    getEnvDuration("ORCHESTRATOR_POLL_INTERVAL", 5*time.Second),
			PollMaxInterval: getEnvDuration("ORCHESTRATOR_POLL_MAX_INTERVAL", 20*time.Second),
			PollFactor:      getEnvFloat("ORCHESTRATOR_POLL_FACTOR", 1.5),
			PollDeadline:    getEnvDuration("ORCHESTRATOR_POLL_DEADLINE", 5*time.Minute),
		},
		Timeline: TimelineConfig{
			FPS:                   getEnvInt("TIMELINE_FPS", 30),
			Width:                 getEnvInt("TIMELINE_WIDTH", 1080),
			Height:                getEnvInt("TIMELINE_HEIGHT", 1920),
			EndCardSec:            getEnvFloat("TIMELINE_END_CARD_SEC", 0),
			EndCardURI:            getEnv("TIMELINE_END_CARD_URI", ""),
			DefaultTransitionSec:  getEnvFloat("TIMELINE_DEFAULT_TRANSITION_SEC", 0.5),
			DefaultTransitionType: models.TransitionType(getEnv("TIMELINE_DEFAULT_TRANSITION", string(models.TransitionDissolve))),
		},
		Audio: AudioConfig{
			MusicVolume: getEnvFloat("AUDIO_MUSIC_VOLUME", 0.25),
			DuckVolume:  getEnvFloat("AUDIO_DUCK_VOLUME", 0.08),
			RampIn:      getEnvDuration("AUDIO_RAMP_IN", 300*time.Millisecond),
			RampOut:     getEnvDuration("AUDIO_RAMP_OUT", 600*time.Millisecond),
			VoiceVolume: getEnvFloat("AUDIO_VOICE_VOLUME", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration with every default applied and no
// providers or backing services enabled.
func Defaults() *Config {
	return &Config{
		APIPort:               "8080",
		SupabaseStorageBucket: "montage-media",
		XAIModel:              "grok-imagine-video",
		VeoModel:              "veo-3.1-generate-preview",
		Orchestrator: OrchestratorConfig{
			MaxRetries:      2,
			BackoffBase:     2 * time.Second,
			BackoffMax:      30 * time.Second,
			PollInterval:    5 * time.Second,
			PollMaxInterval: 20 * time.Second,
			PollFactor:      1.5,
			PollDeadline:    5 * time.Minute,
		},
		Timeline: TimelineConfig{
			FPS:                   30,
			Width:                 1080,
			Height:                1920,
			DefaultTransitionSec:  0.5,
			DefaultTransitionType: models.TransitionDissolve,
		},
		Audio: AudioConfig{
			MusicVolume: 0.25,
			DuckVolume:  0.08,
			RampIn:      300 * time.Millisecond,
			RampOut:     600 * time.Millisecond,
			VoiceVolume: 1.0,
		},
	}
}

// Validate rejects values no run could work with. Provider credentials are
// checked only for enabled providers.
func (c *Config) Validate() error {
	if c.Timeline.FPS <= 0 {
		return models.ConfigError("TIMELINE_FPS must be positive, got %d", c.Timeline.FPS)
	}
	if c.Timeline.Width <= 0 || c.Timeline.Height <= 0 {
		return models.ConfigError("TIMELINE_WIDTH and TIMELINE_HEIGHT must be positive")
	}
	if c.Timeline.EndCardSec < 0 || c.Timeline.DefaultTransitionSec < 0 {
		return models.ConfigError("timeline durations must not be negative")
	}
	if !c.Timeline.DefaultTransitionType.Valid() {
		return models.ConfigError("TIMELINE_DEFAULT_TRANSITION %q is not a known transition", c.Timeline.DefaultTransitionType)
	}
	if c.Audio.MusicVolume <= 0 || c.Audio.MusicVolume > 1 {
		return models.ConfigError("AUDIO_MUSIC_VOLUME must be in (0, 1], got %v", c.Audio.MusicVolume)
	}
	if c.Audio.DuckVolume < 0 || c.Audio.DuckVolume >= c.Audio.MusicVolume {
		return models.ConfigError("AUDIO_DUCK_VOLUME must be in [0, AUDIO_MUSIC_VOLUME), got %v", c.Audio.DuckVolume)
	}
	if c.Audio.RampIn < 0 || c.Audio.RampOut < 0 {
		return models.ConfigError("audio ramps must not be negative")
	}
	if c.Audio.VoiceVolume < 0 || c.Audio.VoiceVolume > 1 {
		return models.ConfigError("AUDIO_VOICE_VOLUME must be in [0, 1]")
	}
	if c.Orchestrator.MaxRetries < 0 || c.Orchestrator.Workers < 0 {
		return models.ConfigError("orchestrator retries and workers must not be negative")
	}
	if c.Orchestrator.PollInterval <= 0 || c.Orchestrator.PollDeadline <= 0 || c.Orchestrator.PollFactor < 1 {
		return models.ConfigError("orchestrator poll interval, deadline and factor are out of range")
	}

	if c.XAIEnabled && c.XAIAPIKey == "" {
		return models.ConfigError("XAI_API_KEY is required when XAI_VIDEO_ENABLED is set")
	}
	if c.VeoEnabled && c.GeminiKey == "" {
		return models.ConfigError("GEMINI_API_KEY is required when VEO_ENABLED is set")
	}
	if c.OpenAIImageEnabled && c.OpenAIKey == "" {
		return models.ConfigError("OPENAI_API_KEY is required when OPENAI_IMAGE_ENABLED is set")
	}
	if c.ElevenLabsEnabled && (c.ElevenLabsKey == "" || c.ElevenLabsVoiceID == "") {
		return models.ConfigError("ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID are required when ELEVENLABS_ENABLED is set")
	}

	// Veo and ElevenLabs return bytes that must be re-hosted
	if (c.VeoEnabled || c.ElevenLabsEnabled) && !c.StorageConfigured() {
		return models.ConfigError("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for Veo and ElevenLabs")
	}

	if c.WorkerEnabled && !c.AnyProviderEnabled() {
		return models.ConfigError("at least one provider must be enabled when WORKER_ENABLED is set")
	}
	return nil
}

func (c *Config) AnyProviderEnabled() bool {
	return c.XAIEnabled || c.VeoEnabled || c.OpenAIImageEnabled || c.ElevenLabsEnabled
}

func (c *Config) StorageConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
