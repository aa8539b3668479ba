// Package prompt composes the LLM system prompt from a process-wide,
// mtime-cached script configuration plus a raw script text file (C8).
package prompt

import "encoding/json"

// Document is one knowledge-base document reference. The legacy shape is a
// bare filename string; the current shape adds a doc_id. Both are accepted
// when decoding config JSON.
type Document struct {
	Filename string `json:"filename,omitempty"`
	DocID    string `json:"doc_id,omitempty"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*d = Document{Filename: name}
		return nil
	}
	type plain Document
	return json.Unmarshal(data, (*plain)(d))
}

// RagContext mirrors the original ScriptConfig's rag_context block.
type RagContext struct {
	Enabled     bool       `json:"enabled"`
	Documents   []Document `json:"documents,omitempty"`
	Description string     `json:"description,omitempty"`
}

// APIEndpoint describes one external API the LLM may call via an
// [API_CALL: ...] tag.
type APIEndpoint struct {
	Method      string                 `json:"method"`
	Path        string                 `json:"path"`
	Description string                 `json:"description,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// ScriptConfig is the process-wide, mtime-cached configuration described in
// SPEC_FULL.md §3.
type ScriptConfig struct {
	RagContext      RagContext    `json:"rag_context"`
	APIEndpoints    []APIEndpoint `json:"api_endpoints,omitempty"`
	IntroText       string        `json:"intro_text,omitempty"`
	GroundingRules  string        `json:"grounding_rules,omitempty"`
	KBInstructions  string        `json:"kb_instructions,omitempty"`
	APIInstructions string        `json:"api_instructions,omitempty"`
}

const defaultIntro = "You are a HUMAN assistant. Greet the user once, then proceed with concise, clear answers."

const defaultGrounding = "\nGrounding Rules:\n" +
	"- Do not respond to the user as an AI; speak with emotion.\n" +
	"- Only use information from the raw script and the listed documents.\n" +
	"- Do not invent facts; if not covered, respond: 'I don't have that information yet.' and ask a brief clarifying question.\n" +
	"- When you need the knowledge base, respond only with [SEARCH_KB: 'reformulated question'].\n" +
	"- After using the KB, answer briefly.\n" +
	"- No special formatting; keep responses under two short paragraphs.\n"

const defaultKBInstructions = "\nKnowledge Base Search Instructions:\n" +
	"- If the user's question is not covered by the script, respond only with: [SEARCH_KB: 'reformulated question']\n" +
	"- Example: [SEARCH_KB: 'refund policy']\n" +
	"- Do not include any other text with [SEARCH_KB]."

const defaultAPIInstructions = "\nAPI Call Instructions:\n" +
	"- To use an API, respond only with: [API_CALL: 'METHOD /path', {payload}]\n" +
	"- Examples:\n" +
	"  [API_CALL: 'GET /api/ping']\n" +
	"- Do not include other text with [API_CALL]."

// withDefaults fills any empty prompt sections with the built-in defaults,
// mirroring the `script.get(...) or (default)` fallback in the original
// scripted_chat handler.
func (c ScriptConfig) withDefaults() ScriptConfig {
	if c.IntroText == "" {
		c.IntroText = defaultIntro
	}
	if c.GroundingRules == "" {
		c.GroundingRules = defaultGrounding
	}
	if c.KBInstructions == "" {
		c.KBInstructions = defaultKBInstructions
	}
	if c.APIInstructions == "" {
		c.APIInstructions = defaultAPIInstructions
	}
	return c
}
