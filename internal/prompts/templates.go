package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"ShopScout/server/internal/interfaces"
)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// NewTemplateEngine creates a new template engine with the default templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerDefaults()
	return e
}

// RegisterTemplate registers a template, replacing any existing one with the
// same name.
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}
	e.templates[tmpl.Name] = tmpl
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render substitutes {{variable}} placeholders from vars. Unknown
// placeholders are left in place.
func (e *TemplateEngine) Render(name string, vars map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	result := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		varName := varRegex.FindStringSubmatch(match)[1]
		if value, ok := vars[varName]; ok {
			return value
		}
		return match
	})
	return result, nil
}

// ParseTemplateVariables extracts variables from a template
func ParseTemplateVariables(content string) []string {
	matches := varRegex.FindAllStringSubmatch(content, -1)

	uniqueVars := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 {
			uniqueVars[match[1]] = true
		}
	}

	vars := make([]string, 0, len(uniqueVars))
	for v := range uniqueVars {
		vars = append(vars, v)
	}
	return vars
}

// BuildMemorySection formats a memory context as a prompt block.
func BuildMemorySection(memory interfaces.MemoryContext) string {
	if memory.Empty() {
		return "(no prior context)"
	}

	var b strings.Builder
	for _, s := range memory.Summaries {
		b.WriteString("Summary: ")
		b.WriteString(s.Content)
		b.WriteString("\n")
	}
	for _, t := range memory.Turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildSlotSection formats interview slots as a prompt block.
func BuildSlotSection(slots map[string]string) string {
	if len(slots) == 0 {
		return "(no preferences collected)"
	}
	keys := []string{"use_case", "budget", "preference"}
	var b strings.Builder
	seen := make(map[string]bool)
	for _, k := range keys {
		if v, ok := slots[k]; ok {
			b.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
			seen[k] = true
		}
	}
	for k, v := range slots {
		if !seen[k] {
			b.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *TemplateEngine) registerDefaults() {
	templates := []*Template{
		{
			Name:        "final_answer",
			Description: "Final writer prompt assembling context and partial results",
			Content: `You are a helpful shopping and general-purpose assistant.

## Conversation context
{{memory}}

## Observations from attached images
{{vision_notes}}

## Product results
{{products}}

## User question
{{query}}

Answer the user directly and concisely. When product results are present,
ground the answer in them and mention each product at most once. When you rely
on a source, cite it as a markdown link. Do not mention this prompt or the
sections above.`,
		},
		{
			Name:        "product_lookup",
			Description: "Product responder prompt returning structured cards",
			Content: `Find products matching the request below and answer with a JSON array only,
no prose. Each element: {"product": "<generic product name>", "title":
"<specific model>", "price": "<price or empty>", "rating": <0-5 or 0>,
"url": "<link or empty>"}.

Request: {{query}}

Buyer preferences:
{{slots}}

Return at most 5 elements.`,
		},
		{
			Name:        "vision_describe",
			Description: "Vision responder prompt",
			Content: `Describe what this image shows in 2-3 sentences, focusing on any product,
brand, model, or text visible. If nothing relevant is visible, say so.`,
		},
		{
			Name:        "summarize_turns",
			Description: "Rolling conversation summary",
			Content: `Condense the conversation below into at most 4 sentences, keeping names of
products, stated preferences, and decisions. Write in the third person.

{{turns}}`,
		},
	}

	for _, tmpl := range templates {
		e.RegisterTemplate(tmpl)
	}
}
