package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-voiceagent/pkg/turn"
)

// KBHit is one scored knowledge-base search result.
type KBHit struct {
	SourcePath string
	Content    string
	Score      float64
}

// KBSearcher is the out-of-scope KB collaborator's search contract.
type KBSearcher interface {
	Search(ctx context.Context, tenant, query string) ([]KBHit, error)
}

// ExternalAPICaller is the out-of-scope external-API collaborator.
type ExternalAPICaller interface {
	Call(ctx context.Context, method, path string, payload map[string]interface{}) (map[string]interface{}, error)
}

// KBSource is the attribution-safe, emitted shape for a KB search result.
type KBSource struct {
	SourcePath string `json:"source_path"`
	Filename   string `json:"filename"`
	Score      string `json:"score"`
	Preview    string `json:"preview"`
}

// Outcome is what the Reply Pipeline produces for C6 to forward to the
// client as audio_ready, or as a plain text/error frame.
type Outcome struct {
	Reply      string
	KBSources  []KBSource
	APICall    *APICall
	AudioPath  string
	HasAudio   bool
	Err        error
}

// TTSSynth is the narrow synthesis contract the pipeline needs; satisfied
// by orchestrator.TTSProvider.
type TTSSynth interface {
	Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error)
}

// Pipeline is the C7 Reply Pipeline: LLM -> tool-tag dispatch -> TTS ->
// audio_ready, run once per finalized transcript.
type Pipeline struct {
	LLM       orchestrator.LLMProvider
	TTS       TTSSynth
	KB        KBSearcher
	ExtAPI    ExternalAPICaller
	Tenant    string
	Voice     orchestrator.Voice
	Language  orchestrator.Language
	KBTopK    int
}

// Run executes the pipeline for one finalized transcript against session,
// writing the synthesized reply (if any) to session.ReplyWavPath(turn) and
// returning the outcome for the signaling loop to relay. The caller is
// responsible for clearing session's processing_active flag if Outcome
// signals no audio was produced (HasAudio == false) — the pipeline itself
// never touches that flag directly, keeping it owned by the turn package.
func (p *Pipeline) Run(ctx context.Context, session *turn.Session, systemPrompt, transcript string) Outcome {
	session.AppendHistory("user", transcript)

	messages := p.buildMessages(systemPrompt, session.History())

	raw, err := CallLLMWithRetry(ctx, p.LLM, messages)
	if err != nil {
		return Outcome{Err: fmt.Errorf("reply pipeline: llm call failed: %w", err)}
	}

	sanitized := SanitizeReply(raw)
	tag := ParseToolTag(sanitized)

	var outcome Outcome
	switch tag.Kind {
	case ToolTagAPICall:
		outcome = p.handleAPICall(ctx, tag.APICall)
	case ToolTagKBQuery:
		outcome = p.handleKBSearch(ctx, tag.Query, transcript)
	default:
		outcome = Outcome{Reply: sanitized}
	}

	if outcome.Err != nil {
		return outcome
	}

	session.AppendHistory("assistant", outcome.Reply)
	turnNumber := session.IncrementTurn()

	if p.TTS == nil {
		return outcome
	}

	clean := CleanTextForTTS(outcome.Reply)
	if clean == "" {
		return outcome
	}

	wav, err := p.TTS.Synthesize(ctx, clean, p.Voice, p.Language)
	if err != nil || len(wav) == 0 {
		return outcome
	}

	path := session.ReplyWavPath(turnNumber)
	if writeErr := os.WriteFile(path, wav, 0o644); writeErr == nil {
		outcome.AudioPath = path
		outcome.HasAudio = true
		session.RecordPlayedAudio(wav)
	}

	return outcome
}

func (p *Pipeline) buildMessages(systemPrompt string, history []turn.Message) []orchestrator.Message {
	messages := make([]orchestrator.Message, 0, len(history)+1)
	messages = append(messages, orchestrator.Message{Role: "system", Content: systemPrompt})
	for _, h := range history {
		messages = append(messages, orchestrator.Message{Role: h.Role, Content: h.Content})
	}
	return messages
}

func (p *Pipeline) handleAPICall(ctx context.Context, call APICall) Outcome {
	path := call.Path
	path = strings.TrimPrefix(path, "/api")

	if p.ExtAPI == nil {
		return Outcome{Err: fmt.Errorf("reply pipeline: no external API client configured")}
	}

	result, err := p.ExtAPI.Call(ctx, call.Method, path, call.Payload)
	if err != nil {
		result = map[string]interface{}{"ok": false, "error": err.Error()}
	}

	resultJSON, _ := json.Marshal(result)
	formatPrompt := fmt.Sprintf(
		"The API call was: %s %s. The API returned: %s. Formulate a friendly, human response based on the API result.",
		call.Method, path, string(resultJSON),
	)

	fm := []orchestrator.Message{
		{Role: "system", Content: formatPrompt},
	}
	raw, err := CallLLMWithRetry(ctx, p.LLM, fm)
	if err != nil {
		return Outcome{Err: fmt.Errorf("reply pipeline: api-call reformatting failed: %w", err)}
	}

	apiCall := call
	return Outcome{Reply: SanitizeReply(raw), APICall: &apiCall}
}

func (p *Pipeline) handleKBSearch(ctx context.Context, query, userContent string) Outcome {
	if p.KB == nil {
		return Outcome{Err: fmt.Errorf("reply pipeline: no KB client configured")}
	}

	hits, err := p.KB.Search(ctx, p.Tenant, query)
	if err != nil {
		hits = nil
	}

	var passages []string
	for _, h := range hits {
		passages = append(passages, h.Content)
	}

	formatPrompt := fmt.Sprintf(
		"The user asked: '%s'. The knowledge base found: '%s'. "+
			"IMPORTANT: The information above came from the knowledge base, NOT from what the user said. "+
			"The user did NOT mention or provide this information. "+
			"Formulate a friendly, human response that presents this information as something you found or looked up, "+
			"not as something the user told you. Use phrases like 'I found', 'According to our records', "+
			"'Our knowledge base shows', or 'I can see that' instead of 'you have', 'you mentioned', or 'you said'. "+
			"Never attribute knowledge base information to the user.",
		query, strings.Join(passages, "\n"),
	)

	fm := []orchestrator.Message{
		{Role: "system", Content: formatPrompt},
		{Role: "user", Content: userContent},
	}
	raw, err := CallLLMWithRetry(ctx, p.LLM, fm)
	if err != nil {
		return Outcome{Err: fmt.Errorf("reply pipeline: kb reformatting failed: %w", err)}
	}

	sources := make([]KBSource, 0, len(hits))
	for _, h := range hits {
		filename := h.SourcePath
		if idx := strings.LastIndexByte(filename, '/'); idx >= 0 {
			filename = filename[idx+1:]
		}
		preview := h.Content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		sources = append(sources, KBSource{
			SourcePath: h.SourcePath,
			Filename:   filename,
			Score:      fmt.Sprintf("%.4f", h.Score),
			Preview:    preview,
		})
	}

	return Outcome{Reply: SanitizeReply(raw), KBSources: sources}
}
