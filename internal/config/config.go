package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string

	DatabaseURL string
	FixturePath string

	NATSURL           string
	NATSSubjectPrefix string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	STTProvider    string
	AssemblyAIKey  string
	WhisperKey     string
	WhisperBaseURL string
	WhisperModel   string

	OracleProvider  string
	CerebrasKey     string
	CerebrasModelID string
	GeminiKey       string
	GeminiModel     string

	TTSProvider       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	ObserverJWTSecret string

	SessionGracePeriod    time.Duration
	AudioFlushBytes       int
	AudioInputEncoding    string
	OracleTimeout         time.Duration
	SynthesisTimeout      time.Duration
	TranscriptionTimeout  time.Duration
	DefaultLanguage       string
	ShortAnswerWords      int
	RecorderFlushInterval time.Duration
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: reading .env failed", "err", err)
	}

	cfg := Config{
		HTTPAddress: envStr("HTTP_ADDRESS", ":8080"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		FixturePath: envStr("FIXTURE_PATH", ""),

		NATSURL:           envStr("NATS_URL", ""),
		NATSSubjectPrefix: envStr("NATS_SUBJECT_PREFIX", "interviews"),

		SupabaseURL:        envStr("SUPABASE_URL", ""),
		SupabaseServiceKey: envStr("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseBucket:     envStr("SUPABASE_BUCKET", "interview-transcripts"),

		STTProvider:    strings.ToLower(envStr("STT_PROVIDER", "assemblyai")),
		AssemblyAIKey:  envStr("ASSEMBLYAI_API_KEY", ""),
		WhisperKey:     envStr("WHISPER_API_KEY", ""),
		WhisperBaseURL: envStr("WHISPER_BASE_URL", ""),
		WhisperModel:   envStr("WHISPER_MODEL", ""),

		OracleProvider:  strings.ToLower(envStr("ORACLE_PROVIDER", "cerebras")),
		CerebrasKey:     envStr("CEREBRAS_API_KEY", ""),
		CerebrasModelID: envStr("CEREBRAS_MODEL_ID", "llama3.1-8b"),
		GeminiKey:       envStr("GEMINI_API_KEY", ""),
		GeminiModel:     envStr("GEMINI_MODEL", "gemini-2.0-flash"),

		TTSProvider:       strings.ToLower(envStr("TTS_PROVIDER", "deepgram")),
		DeepgramKey:       envStr("DEEPGRAM_API_KEY", ""),
		DeepgramModel:     envStr("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:     envStr("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: envStr("ELEVENLABS_VOICE_ID", ""),

		ObserverJWTSecret: envStr("OBSERVER_JWT_SECRET", ""),

		SessionGracePeriod:    envDuration("SESSION_GRACE_PERIOD", 60*time.Second),
		AudioFlushBytes:       envInt("AUDIO_FLUSH_BYTES", 96000),
		AudioInputEncoding:    strings.ToLower(envStr("AUDIO_INPUT_ENCODING", "pcm16")),
		OracleTimeout:         envDuration("ORACLE_TIMEOUT", 10*time.Second),
		SynthesisTimeout:      envDuration("SYNTHESIS_TIMEOUT", 20*time.Second),
		TranscriptionTimeout:  envDuration("TRANSCRIPTION_TIMEOUT", 30*time.Second),
		DefaultLanguage:       envStr("DEFAULT_LANGUAGE", "en"),
		ShortAnswerWords:      envInt("SHORT_ANSWER_WORDS", 20),
		RecorderFlushInterval: envDuration("RECORDER_FLUSH_INTERVAL", 2*time.Second),
	}
	cfg.warnMissing()
	return cfg
}

func (c Config) warnMissing() {
	switch c.STTProvider {
	case "whisper":
		if c.WhisperKey == "" {
			slog.Warn("config: WHISPER_API_KEY not set - transcription will not work")
		}
	default:
		if c.AssemblyAIKey == "" {
			slog.Warn("config: ASSEMBLYAI_API_KEY not set - transcription will not work")
		}
	}
	switch c.OracleProvider {
	case "gemini":
		if c.GeminiKey == "" {
			slog.Warn("config: GEMINI_API_KEY not set - follow-up decisions fall back to advancing")
		}
	default:
		if c.CerebrasKey == "" {
			slog.Warn("config: CEREBRAS_API_KEY not set - follow-up decisions fall back to advancing")
		}
	}
	switch c.TTSProvider {
	case "elevenlabs":
		if c.ElevenLabsKey == "" {
			slog.Warn("config: ELEVENLABS_API_KEY not set - TTS will not work")
		}
		if c.ElevenLabsVoiceID == "" {
			slog.Warn("config: ELEVENLABS_VOICE_ID not set - interviews without a voice will fail synthesis")
		}
	default:
		if c.DeepgramKey == "" {
			slog.Warn("config: DEEPGRAM_API_KEY not set - TTS will not work")
		}
	}
	if c.ObserverJWTSecret == "" {
		slog.Warn("config: OBSERVER_JWT_SECRET not set - observers and the HTTP API are disabled")
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
