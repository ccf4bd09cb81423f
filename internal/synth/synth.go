// Package synth turns retrieved passages into a cited answer, either with a
// chat model or, when none is available, by quoting the top passages.
package synth

import (
	"context"
	"fmt"
	"strings"

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
)

const (
	SystemPrompt = "You are a helpful assistant answering ONLY from the provided context.\n" +
		"- If the user asks for skills, extract them into a clean bullet list.\n" +
		"- If the user asks for experience, summarize roles and achievements.\n" +
		"- Always add inline citations [1], [2] based on order of chunks.\n" +
		"- If nothing matches, reply 'Not found in documents.'"

	NoContext = "No context found."

	// DedupePrefix is the number of runes compared when deduplicating context.
	DedupePrefix = 80

	DefaultMaxTokens = 400

	extractiveTop    = 3
	extractiveMax    = 600
	extractiveCut    = 580
	extractiveSuffix = "…"
)

type Mode string

const (
	ModeLLM        Mode = "llm"
	ModeExtractive Mode = "extractive"
)

// Answer is the synthesized text and how it was produced.
type Answer struct {
	Text string
	Mode Mode
}

// Generator is the subset of an eino chat model used here.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Options struct {
	Temperature float32
	MaxTokens   int
}

// Synthesizer 答案合成：优先调用对话模型，失败或未配置时退化为抽取式回答
type Synthesizer struct {
	gen     Generator
	opts    Options
	metrics *metrics.BusinessMetrics
}

// New returns a Synthesizer. A nil generator means extractive answers only.
func New(gen Generator, opts Options) *Synthesizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Synthesizer{gen: gen, opts: opts, metrics: metrics.Default()}
}

// NewArkGenerator builds the Ark chat model with fixed sampling settings.
func NewArkGenerator(ctx context.Context, apiKey, modelName, baseURL, region string, opts Options) (*arkmodel.ChatModel, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	cfg := &arkmodel.ChatModelConfig{
		APIKey:      apiKey,
		Model:       modelName,
		MaxTokens:   &opts.MaxTokens,
		Temperature: &opts.Temperature,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if region != "" {
		cfg.Region = region
	}
	chat, err := arkmodel.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new ark chat model: %w", err)
	}
	return chat, nil
}

// Synthesize answers query from passages. Completion failures are logged
// and degrade to the extractive answer; they are never returned.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, passages []string) Answer {
	ctxTexts := Dedupe(passages)
	if s.gen == nil {
		s.metrics.RecordSynthesis(string(ModeExtractive))
		return Answer{Text: Extractive(ctxTexts), Mode: ModeExtractive}
	}

	resp, err := s.gen.Generate(ctx, Messages(query, ctxTexts),
		model.WithTemperature(s.opts.Temperature),
		model.WithMaxTokens(s.opts.MaxTokens),
	)
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		if err == nil {
			err = fmt.Errorf("empty completion")
		}
		logger.Warn(ctx, "Completion failed, using extractive answer", "query", query, "error", err)
		s.metrics.RecordSynthesis(string(ModeExtractive))
		return Answer{Text: Extractive(ctxTexts), Mode: ModeExtractive}
	}
	s.metrics.RecordSynthesis(string(ModeLLM))
	return Answer{Text: strings.TrimSpace(resp.Content), Mode: ModeLLM}
}

// Messages builds the system and user messages for one question.
func Messages(query string, passages []string) []*schema.Message {
	blob := NoContext
	if len(passages) > 0 {
		blob = strings.Join(passages, "\n\n")
	}
	return []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(fmt.Sprintf("Question: %s\n\nContext:\n%s", query, blob)),
	}
}

// Texts normalizes bare strings or hits into passage texts.
func Texts[T string | models.Hit](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := any(it).(type) {
		case string:
			out = append(out, v)
		case models.Hit:
			out = append(out, v.Text)
		}
	}
	return out
}

// Dedupe trims passages and keeps the first one per DedupePrefix-rune
// prefix. Empty passages are dropped.
func Dedupe(passages []string) []string {
	seen := make(map[string]struct{}, len(passages))
	out := make([]string, 0, len(passages))
	for _, p := range passages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := prefix(p, DedupePrefix)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Extractive quotes the first three passages with [i] citations.
func Extractive(passages []string) string {
	if len(passages) > extractiveTop {
		passages = passages[:extractiveTop]
	}
	parts := make([]string, 0, len(passages))
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("%s [%d]", clip(strings.TrimSpace(p)), i+1))
	}
	return strings.Join(parts, "\n\n")
}

// clip shortens text over extractiveMax runes to the last word boundary
// before extractiveCut and appends an ellipsis.
func clip(text string) string {
	r := []rune(text)
	if len(r) <= extractiveMax {
		return text
	}
	cut := string(r[:extractiveCut])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + extractiveSuffix
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
