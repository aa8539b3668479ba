// Package registry holds the process-wide lazy singletons shared across
// sessions: the ASR/VAD providers, the pooled outbound HTTP client, and
// embeddings clients keyed by model name. Every accessor is safe for
// concurrent use; each underlying resource is created at most once.
package registry

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// Device is the resolved compute preference for model-bearing providers.
type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// ComputeType is the numeric precision paired with a Device.
type ComputeType string

const (
	ComputeFloat16 ComputeType = "float16"
	ComputeInt8    ComputeType = "int8"
)

// ASRFactory builds an STTProvider for a given model identifier and device
// preference. The registry only runs it once per (model, device, compute)
// key; providers are expected to be safe for concurrent Transcribe calls.
type ASRFactory func(model string, device Device, compute ComputeType) (orchestrator.STTProvider, error)

// VADFactory builds the default VADProvider singleton.
type VADFactory func() (orchestrator.VADProvider, error)

// EmbeddingsFactory builds an embeddings client for a given model name.
type EmbeddingsFactory func(model string) (interface{}, error)

// Registry lazily creates and caches the shared resources described in
// SPEC_FULL.md §4.1/§5. It holds no global state of its own; a process
// normally constructs exactly one Registry and shares it.
type Registry struct {
	useCUDA bool

	asrFactory        ASRFactory
	vadFactory        VADFactory
	embeddingsFactory EmbeddingsFactory

	asrMu  sync.Mutex
	asrKey string
	asr    orchestrator.STTProvider

	vadMu sync.Mutex
	vad   orchestrator.VADProvider

	httpOnce   sync.Once
	httpClient *resty.Client

	embMu    sync.Mutex
	embCache map[string]interface{}
}

// New creates a Registry. useCUDA resolves the Device preference once, the
// way USE_CUDA is read a single time at process start rather than re-read
// per call.
func New(useCUDA bool, asrFactory ASRFactory, vadFactory VADFactory, embeddingsFactory EmbeddingsFactory) *Registry {
	return &Registry{
		useCUDA:           useCUDA,
		asrFactory:        asrFactory,
		vadFactory:        vadFactory,
		embeddingsFactory: embeddingsFactory,
		embCache:          make(map[string]interface{}),
	}
}

// Device returns the resolved device preference.
func (r *Registry) Device() Device {
	if r.useCUDA {
		return DeviceCUDA
	}
	return DeviceCPU
}

// Compute returns the compute type paired with the resolved device.
func (r *Registry) Compute() ComputeType {
	if r.useCUDA {
		return ComputeFloat16
	}
	return ComputeInt8
}

// ASR returns the cached STTProvider for model, creating it on first use.
// A failed creation attempt is not cached: the next call retries the
// factory, since a transient load failure (e.g. model download hiccup)
// shouldn't be permanent for the process lifetime.
func (r *Registry) ASR(model string) (orchestrator.STTProvider, error) {
	if r.asrFactory == nil {
		return nil, fmt.Errorf("registry: no ASR factory configured")
	}

	key := fmt.Sprintf("%s|%s|%s", model, r.Device(), r.Compute())

	r.asrMu.Lock()
	defer r.asrMu.Unlock()

	if r.asr != nil && r.asrKey == key {
		return r.asr, nil
	}

	asr, err := r.asrFactory(model, r.Device(), r.Compute())
	if err != nil {
		return nil, fmt.Errorf("registry: ASR load failed: %w", err)
	}
	r.asr = asr
	r.asrKey = key
	return asr, nil
}

// VAD returns the cached VADProvider singleton, creating it on first use.
func (r *Registry) VAD() (orchestrator.VADProvider, error) {
	if r.vadFactory == nil {
		return nil, fmt.Errorf("registry: no VAD factory configured")
	}

	r.vadMu.Lock()
	defer r.vadMu.Unlock()

	if r.vad != nil {
		return r.vad, nil
	}

	vad, err := r.vadFactory()
	if err != nil {
		return nil, fmt.Errorf("registry: VAD load failed: %w", err)
	}
	r.vad = vad
	return vad, nil
}

// HTTPClient returns the process-wide pooled resty client backing the KB
// and external-API providers: one connection pool, not one per client. The
// LLM providers do not use it; they send requests through net/http.
func (r *Registry) HTTPClient() *resty.Client {
	r.httpOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
		r.httpClient = resty.New().
			SetTimeout(30 * time.Second).
			SetTransport(transport)
	})
	return r.httpClient
}

// Embeddings returns the cached embeddings client for model, creating it on
// first use.
func (r *Registry) Embeddings(model string) (interface{}, error) {
	if r.embeddingsFactory == nil {
		return nil, fmt.Errorf("registry: no embeddings factory configured")
	}

	r.embMu.Lock()
	defer r.embMu.Unlock()

	if emb, ok := r.embCache[model]; ok {
		return emb, nil
	}

	emb, err := r.embeddingsFactory(model)
	if err != nil {
		return nil, fmt.Errorf("registry: embeddings load failed: %w", err)
	}
	r.embCache[model] = emb
	return emb, nil
}
