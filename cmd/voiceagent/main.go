package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/audio"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/config"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/logging"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/prompt"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/providers/extapi"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/providers/kb"
	llmProvider "github.com/lokutor-ai/lokutor-voiceagent/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-voiceagent/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-voiceagent/pkg/providers/tts"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/registry"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/reply"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/signaling"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/turn"
)

// scriptFile/scriptConfigFile are the on-disk prompt assembly inputs
// SPEC_FULL.md §4.8 describes; both are resolved relative to storageDir.
const (
	scriptFile       = "script.txt"
	scriptConfigFile = "script_config.json"
)

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("voiceagent: creating storage dir: %v", err)
	}

	logger, err := logging.New(logging.Options{
		FilePath:   cfg.LogPath,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Level:      "info",
	})
	if err != nil {
		log.Fatalf("voiceagent: building logger: %v", err)
	}
	defer logger.Sync()

	if cfg.LokutorAPIKey == "" {
		log.Fatal("voiceagent: LOKUTOR_API_KEY must be set")
	}

	useCUDA := cfg.UseCUDA == "true"

	reg := registry.New(useCUDA, nil, nil, nil)
	httpClient := reg.HTTPClient()

	transcoder := audio.NewTranscoder(cfg.FFmpegBin, "webm")

	var asr orchestrator.STTProvider
	if cfg.WhisperBin != "" && cfg.WhisperModel != "" {
		asr = sttProvider.NewWhisperSubprocessSTT(cfg.WhisperBin, cfg.WhisperModel)
	} else if groqKey := os.Getenv("GROQ_API_KEY"); groqKey != "" {
		asr = sttProvider.NewGroqSTT(groqKey, "whisper-large-v3-turbo")
	} else {
		log.Fatal("voiceagent: no STT provider configured (set WHISPER_BIN+WHISPER_MODEL or GROQ_API_KEY)")
	}

	var llm orchestrator.LLMProvider
	if cfg.TogetherAPIKey != "" {
		llm = llmProvider.NewTogetherLLM(cfg.TogetherAPIKey, cfg.TogetherModel, cfg.TogetherTimeout)
	} else if groqKey := os.Getenv("GROQ_API_KEY"); groqKey != "" {
		llm = llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	} else {
		log.Fatal("voiceagent: no LLM provider configured (set TOGETHER_API_KEY or GROQ_API_KEY)")
	}

	var tts orchestrator.TTSProvider
	if cfg.PiperVoice != "" {
		tts = ttsProvider.NewPiperSubprocessTTS("piper", cfg.PiperVoice, useCUDA)
	} else {
		tts = ttsProvider.NewLokutorTTS(cfg.LokutorAPIKey)
	}

	var kbClient reply.KBSearcher
	if cfg.APIBaseURL != "" {
		kbClient = kb.New(httpClient, cfg.APIBaseURL, cfg.KBTopK, kb.ScoreMode(cfg.KBScoreMode), cfg.KBScoreThreshold)
	}

	var extAPI reply.ExternalAPICaller
	if cfg.ExternalAPIBaseURL != "" {
		extAPI = extapi.New(httpClient, cfg.ExternalAPIBaseURL)
	}

	turnMgr := turn.NewManager(cfg.StorageDir, transcoder, asr, turn.DefaultVADParams())
	turnMgr.EnableEchoSuppression(cfg.EchoSuppression)

	scriptPath := filepath.Join(cfg.StorageDir, scriptFile)
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		if err := os.WriteFile(scriptPath, []byte(""), 0o644); err != nil {
			log.Fatalf("voiceagent: seeding default script file: %v", err)
		}
	}

	assembler, err := prompt.NewAssembler(scriptPath, filepath.Join(cfg.StorageDir, scriptConfigFile))
	if err != nil {
		log.Fatalf("voiceagent: building prompt assembler: %v", err)
	}

	pipeline := &reply.Pipeline{
		LLM:      llm,
		TTS:      tts,
		KB:       kbClient,
		ExtAPI:   extAPI,
		Voice:    orchestrator.VoiceF1,
		Language: orchestrator.LanguageEn,
		KBTopK:   cfg.KBTopK,
	}

	server := signaling.NewServer(turnMgr, pipeline, assembler, logger)

	mux := http.NewServeMux()
	server.Routes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("voiceagent listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("voiceagent shutting down", "signal", "received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
