package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

const systemPromptTemplate = `{{ intro_text }}
{% if has_docs %}
Documents available:
{% for doc in documents %}- {{ doc }}
{% endfor %}{% endif %}
{% if has_endpoints %}
API endpoints available:
{% for ep in endpoints %}- {{ ep.Method }} {{ ep.Path }}: {{ ep.Description }} (payload: {{ ep.PayloadSchema }})
{% endfor %}{% endif %}
{{ grounding_rules }}
{{ kb_instructions }}
{{ api_instructions }}
--RAW
{{ raw_script }}
`

// Assembler builds the system prompt handed to the LLM from a raw script
// text file and an optional sidecar JSON config, re-reading either only
// when its mtime changes.
type Assembler struct {
	scriptPath string
	configPath string

	mu         sync.Mutex
	scriptMod  int64
	configMod  int64
	rawScript  string
	config     ScriptConfig
	tmpl       *pongo2.Template
}

// NewAssembler builds an Assembler reading the raw script from scriptPath
// and, if present, a sidecar JSON ScriptConfig from configPath.
func NewAssembler(scriptPath, configPath string) (*Assembler, error) {
	tmpl, err := pongo2.FromString(systemPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse template: %w", err)
	}
	a := &Assembler{scriptPath: scriptPath, configPath: configPath, tmpl: tmpl}
	if err := a.reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Build returns the current system prompt, reloading the backing files if
// either has changed on disk since the last call.
func (a *Assembler) Build() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.reloadLocked(); err != nil {
		return "", err
	}

	cfg := a.config.withDefaults()

	documents := make([]string, 0, len(cfg.RagContext.Documents))
	for _, d := range cfg.RagContext.Documents {
		name := d.Filename
		if name == "" {
			name = d.DocID
		}
		if name != "" {
			documents = append(documents, name)
		}
	}

	type endpointView struct {
		Method        string
		Path          string
		Description   string
		PayloadSchema string
	}
	endpoints := make([]endpointView, 0, len(cfg.APIEndpoints))
	for _, ep := range cfg.APIEndpoints {
		schema := "{}"
		if len(ep.Payload) > 0 {
			if b, err := json.Marshal(ep.Payload); err == nil {
				schema = string(b)
			}
		}
		endpoints = append(endpoints, endpointView{
			Method:        ep.Method,
			Path:          ep.Path,
			Description:   ep.Description,
			PayloadSchema: schema,
		})
	}

	out, err := a.tmpl.Execute(pongo2.Context{
		"intro_text":       strings.TrimSpace(cfg.IntroText),
		"grounding_rules":  cfg.GroundingRules,
		"kb_instructions":  cfg.KBInstructions,
		"api_instructions": cfg.APIInstructions,
		"has_docs":         cfg.RagContext.Enabled && len(documents) > 0,
		"documents":        documents,
		"has_endpoints":    len(endpoints) > 0,
		"endpoints":        endpoints,
		"raw_script":       a.rawScript,
	})
	if err != nil {
		return "", fmt.Errorf("prompt: render template: %w", err)
	}
	return out, nil
}

func (a *Assembler) reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reloadLocked()
}

func (a *Assembler) reloadLocked() error {
	info, err := os.Stat(a.scriptPath)
	if err != nil {
		return fmt.Errorf("prompt: stat script: %w", err)
	}
	mod := info.ModTime().UnixNano()
	if mod != a.scriptMod || a.rawScript == "" {
		data, err := os.ReadFile(a.scriptPath)
		if err != nil {
			return fmt.Errorf("prompt: read script: %w", err)
		}
		a.rawScript = string(data)
		a.scriptMod = mod
	}

	if a.configPath == "" {
		return nil
	}
	cinfo, err := os.Stat(a.configPath)
	if err != nil {
		// Sidecar config is optional; missing file just means defaults.
		return nil
	}
	cmod := cinfo.ModTime().UnixNano()
	if cmod == a.configMod {
		return nil
	}
	data, err := os.ReadFile(a.configPath)
	if err != nil {
		return fmt.Errorf("prompt: read config: %w", err)
	}
	var cfg ScriptConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("prompt: decode config: %w", err)
	}
	a.config = cfg
	a.configMod = cmod
	return nil
}
