package turn

import (
	"sync"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/audio"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// Manager is the C5 Turn Manager: a concurrency-safe session registry plus
// the shared configuration (transcoder, ASR provider, VAD defaults) handed
// to every session it creates.
type Manager struct {
	baseDir          string
	transcoder       *audio.Transcoder
	asr              orchestrator.STTProvider
	vadParams        VADParams
	echoSuppression  bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager rooted at baseDir (SPEC_FULL.md's
// storage/voice layout), using transcoder and asr for every session it
// starts.
func NewManager(baseDir string, transcoder *audio.Transcoder, asr orchestrator.STTProvider, vadParams VADParams) *Manager {
	return &Manager{
		baseDir:    baseDir,
		transcoder: transcoder,
		asr:        asr,
		vadParams:  vadParams,
		sessions:   make(map[string]*Session),
	}
}

// EnableEchoSuppression turns on the optional pre-VAD echo filter (SPEC_FULL.md
// §9) for every session this Manager starts from this point on.
func (m *Manager) EnableEchoSuppression(enabled bool) {
	m.mu.Lock()
	m.echoSuppression = enabled
	m.mu.Unlock()
}

// Start creates (or replaces) the session for sid.
func (m *Manager) Start(sid string) *Session {
	s := New(sid, m.baseDir, m.transcoder, m.asr)

	m.mu.Lock()
	withEcho := m.echoSuppression
	m.sessions[sid] = s
	m.mu.Unlock()

	if withEcho {
		s.EnableEchoSuppression(orchestrator.NewEchoSuppressor())
	}
	return s
}

// Get returns the session for sid, or nil if none exists.
func (m *Manager) Get(sid string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sid]
}

// Remove drops sid from the registry (called on signaling-loop exit per
// SPEC_FULL.md §4.6).
func (m *Manager) Remove(sid string) {
	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()
}

// ClearProcessingFlag re-arms sid's session, if it exists.
func (m *Manager) ClearProcessingFlag(sid string) bool {
	s := m.Get(sid)
	if s == nil {
		return false
	}
	s.ClearProcessingFlag()
	return true
}

// VADParams returns the manager's configured default VAD thresholds.
func (m *Manager) VADParams() VADParams {
	return m.vadParams
}
