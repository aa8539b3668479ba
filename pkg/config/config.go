// Package config loads process configuration the way the teacher's pack
// does it: godotenv layers a local .env file over the process environment,
// then viper resolves typed values with defaults, env vars always winning.
package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved process configuration described in SPEC_FULL.md §6.
type Config struct {
	HTTPAddr   string
	StorageDir string
	LogPath    string

	FFmpegBin string
	UseCUDA   string // "true" | "false" | "auto"

	WhisperBin   string
	WhisperModel string
	PiperVoice   string

	TogetherAPIKey  string
	TogetherModel   string
	TogetherTimeout time.Duration

	ExternalAPIBaseURL string
	APIBaseURL         string

	ChromaDir       string
	EmbeddingsModel string
	KBTopK          int
	KBScoreMode     string
	KBScoreThreshold float64

	LokutorAPIKey string
	LokutorHost   string

	// EchoSuppression enables the optional cross-correlation pre-VAD filter
	// (SPEC_FULL.md §9), off by default since processing_active alone covers
	// most deployments.
	EchoSuppression bool
}

// Load reads an optional .env file (missing is not an error, matching
// cmd/agent/main.go's existing behavior) then resolves Config from the
// environment via viper, applying defaults for anything unset.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using process environment")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return Config{
		HTTPAddr:   v.GetString("VOICEAGENT_HTTP_ADDR"),
		StorageDir: v.GetString("VOICEAGENT_STORAGE_DIR"),
		LogPath:    v.GetString("VOICEAGENT_LOG_PATH"),

		FFmpegBin: v.GetString("FFMPEG_BIN"),
		UseCUDA:   v.GetString("USE_CUDA"),

		WhisperBin:   v.GetString("WHISPER_BIN"),
		WhisperModel: v.GetString("WHISPER_MODEL"),
		PiperVoice:   v.GetString("PIPER_VOICE"),

		TogetherAPIKey:  v.GetString("TOGETHER_API_KEY"),
		TogetherModel:   v.GetString("TOGETHER_MODEL"),
		TogetherTimeout: v.GetDuration("TOGETHER_TIMEOUT"),

		ExternalAPIBaseURL: v.GetString("EXTERNAL_API_BASE_URL"),
		APIBaseURL:         v.GetString("API_BASE_URL"),

		ChromaDir:        v.GetString("CHROMA_DIR"),
		EmbeddingsModel:  v.GetString("EMBEDDINGS_MODEL"),
		KBTopK:           v.GetInt("KB_TOP_K"),
		KBScoreMode:      v.GetString("KB_SCORE_MODE"),
		KBScoreThreshold: v.GetFloat64("KB_SCORE_THRESHOLD"),

		LokutorAPIKey: v.GetString("LOKUTOR_API_KEY"),
		LokutorHost:   v.GetString("LOKUTOR_HOST"),

		EchoSuppression: v.GetBool("VOICEAGENT_ECHO_SUPPRESSION"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("VOICEAGENT_HTTP_ADDR", ":8080")
	v.SetDefault("VOICEAGENT_STORAGE_DIR", "storage/voice")
	v.SetDefault("VOICEAGENT_LOG_PATH", "")

	v.SetDefault("FFMPEG_BIN", "ffmpeg")
	v.SetDefault("USE_CUDA", "auto")

	v.SetDefault("WHISPER_BIN", "")
	v.SetDefault("WHISPER_MODEL", "")
	v.SetDefault("PIPER_VOICE", "")

	v.SetDefault("TOGETHER_API_KEY", "")
	v.SetDefault("TOGETHER_MODEL", "meta-llama/Llama-3.3-70B-Instruct-Turbo")
	v.SetDefault("TOGETHER_TIMEOUT", "60s")

	v.SetDefault("EXTERNAL_API_BASE_URL", "")
	v.SetDefault("API_BASE_URL", "")

	v.SetDefault("CHROMA_DIR", "storage/chroma")
	v.SetDefault("EMBEDDINGS_MODEL", "")
	v.SetDefault("KB_TOP_K", 3)
	v.SetDefault("KB_SCORE_MODE", "similarity")
	v.SetDefault("KB_SCORE_THRESHOLD", 0.5)

	v.SetDefault("LOKUTOR_API_KEY", "")
	v.SetDefault("LOKUTOR_HOST", "api.lokutor.com")

	v.SetDefault("VOICEAGENT_ECHO_SUPPRESSION", false)
}
