package responders

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/prompts"
)

// EmitFunc pushes an event onto the turn's output stream.
type EmitFunc func(event interfaces.AgentEvent)

// Input carries everything a responder may consume for one turn.
type Input struct {
	Query          string
	EffectiveQuery string // query plus vision notes, or the expanded query
	Session        *interfaces.Session
	Decision       interfaces.MemoryDecision
	Memory         interfaces.MemoryContext
	Attachments    []interfaces.Attachment
	Slots          map[string]string // interview slots at recommendation time
	Model          string
	// InterviewOpening marks the turn that toggled shopping mode on: the
	// turn's answer is round one's question, not an answer to it.
	InterviewOpening bool
}

// Output accumulates partial results across responders within one turn.
type Output struct {
	VisionNotes  string
	ProductCards []interfaces.ProductCard
	Citations    []interfaces.Citation
	Options      []string
	Text         string
}

// Responder produces part or all of a turn's content. Final responders fail
// the whole turn on error; the dispatcher skips failures of the others.
type Responder interface {
	Name() string
	Final() bool
	Run(ctx context.Context, in *Input, out *Output, emit EmitFunc) error
}

// VisionResponder describes image attachments so later responders can treat
// the description as part of the query.
type VisionResponder struct {
	provider interfaces.Provider
	engine   *prompts.TemplateEngine
	model    string
}

func NewVisionResponder(provider interfaces.Provider, engine *prompts.TemplateEngine, model string) *VisionResponder {
	return &VisionResponder{provider: provider, engine: engine, model: model}
}

func (r *VisionResponder) Name() string { return "vision" }
func (r *VisionResponder) Final() bool  { return false }

func (r *VisionResponder) Run(ctx context.Context, in *Input, out *Output, emit EmitFunc) error {
	var urls []string
	for _, a := range in.Attachments {
		if a.Kind == interfaces.AttachmentImage {
			urls = append(urls, a.URL)
		}
	}
	if len(urls) == 0 {
		return nil
	}

	emit(interfaces.NodeEvent(r.Name()))

	prompt, err := r.engine.Render("vision_describe", nil)
	if err != nil {
		return err
	}

	notes, err := r.provider.Generate(ctx, interfaces.GenerateRequest{
		Prompt:    prompt,
		Model:     r.model,
		ImageURLs: urls,
	})
	if err != nil {
		return err
	}

	out.VisionNotes = notes
	if in.EffectiveQuery == "" {
		in.EffectiveQuery = in.Query
	}
	in.EffectiveQuery = strings.TrimSpace(in.EffectiveQuery + "\n[image] " + notes)
	return nil
}

// ProductResponder looks up product cards for the effective query, keeping
// the top hit per distinct product.
type ProductResponder struct {
	provider      interfaces.Provider
	engine        *prompts.TemplateEngine
	maxPerProduct int
}

func NewProductResponder(provider interfaces.Provider, engine *prompts.TemplateEngine) *ProductResponder {
	return &ProductResponder{provider: provider, engine: engine, maxPerProduct: 1}
}

func (r *ProductResponder) Name() string { return "product" }
func (r *ProductResponder) Final() bool  { return false }

func (r *ProductResponder) Run(ctx context.Context, in *Input, out *Output, emit EmitFunc) error {
	emit(interfaces.NodeEvent(r.Name()))

	query := in.EffectiveQuery
	if query == "" {
		query = in.Query
	}

	prompt, err := r.engine.Render("product_lookup", map[string]string{
		"query": query,
		"slots": prompts.BuildSlotSection(in.Slots),
	})
	if err != nil {
		return err
	}

	raw, err := r.provider.Generate(ctx, interfaces.GenerateRequest{
		Prompt: prompt,
		Model:  in.Model,
	})
	if err != nil {
		return err
	}

	cards := parseProductCards(raw)
	out.ProductCards = dedupeCards(cards, r.maxPerProduct)
	return nil
}

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseProductCards extracts the first JSON array from model output. Models
// wrap JSON in prose or fences often enough that strict decoding alone is not
// good enough.
func parseProductCards(raw string) []interfaces.ProductCard {
	match := jsonArrayPattern.FindString(raw)
	if match == "" {
		return nil
	}
	var cards []interfaces.ProductCard
	if err := json.Unmarshal([]byte(match), &cards); err != nil {
		return nil
	}
	return cards
}

// dedupeCards keeps at most maxPer cards per distinct product, preserving
// order (the model returns best matches first).
func dedupeCards(cards []interfaces.ProductCard, maxPer int) []interfaces.ProductCard {
	counts := make(map[string]int, len(cards))
	result := make([]interfaces.ProductCard, 0, len(cards))
	for _, c := range cards {
		key := strings.ToLower(strings.TrimSpace(c.Product))
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(c.Title))
		}
		if key == "" || counts[key] >= maxPer {
			continue
		}
		counts[key]++
		result = append(result, c)
	}
	return result
}

// WriterResponder composes the final natural-language answer, streaming
// chunks as the provider produces them. It is the only final responder.
type WriterResponder struct {
	provider interfaces.Provider
	engine   *prompts.TemplateEngine
}

func NewWriterResponder(provider interfaces.Provider, engine *prompts.TemplateEngine) *WriterResponder {
	return &WriterResponder{provider: provider, engine: engine}
}

func (r *WriterResponder) Name() string { return "writer" }
func (r *WriterResponder) Final() bool  { return true }

func (r *WriterResponder) Run(ctx context.Context, in *Input, out *Output, emit EmitFunc) error {
	emit(interfaces.NodeEvent(r.Name()))

	query := in.EffectiveQuery
	if query == "" {
		query = in.Query
	}

	prompt, err := r.engine.Render("final_answer", map[string]string{
		"memory":       prompts.BuildMemorySection(in.Memory),
		"vision_notes": orPlaceholder(out.VisionNotes, "(none)"),
		"products":     formatCards(out.ProductCards),
		"query":        query,
	})
	if err != nil {
		return err
	}

	text, err := r.provider.GenerateStream(ctx, interfaces.GenerateRequest{
		Prompt: prompt,
		Model:  in.Model,
	}, func(chunk string) error {
		emit(interfaces.ChunkEvent(chunk))
		return nil
	})
	if err != nil {
		return err
	}

	out.Text = text
	out.Citations = extractCitations(text)
	return nil
}

var markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)

func extractCitations(text string) []interfaces.Citation {
	matches := markdownLinkPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var citations []interfaces.Citation
	for _, m := range matches {
		if seen[m[2]] {
			continue
		}
		seen[m[2]] = true
		citations = append(citations, interfaces.Citation{Title: m[1], URL: m[2]})
	}
	return citations
}

func formatCards(cards []interfaces.ProductCard) string {
	if len(cards) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, c := range cards {
		b.WriteString("- ")
		b.WriteString(c.Title)
		if c.Price != "" {
			b.WriteString(" (" + c.Price + ")")
		}
		if c.URL != "" {
			b.WriteString(" " + c.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
