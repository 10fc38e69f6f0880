package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	maxChunkChars = 3800
	historyWindow = 8

	systemPreamble = "You are WORISON — Wisdom-Oriented Responsive Intelligent Support & Operations Network. " +
		"You are a helpful, precise, and reliable AI assistant focused on learning, analysis, and guidance."
)

// ResultKind classifies a gateway outcome. The gateway never returns a
// Go error to callers; every degraded outcome is a Result the HTTP
// layer can render inline.
type ResultKind int

const (
	KindOK ResultKind = iota
	KindFallback
	KindEmpty
	KindError
)

type Result struct {
	Kind ResultKind
	Text string
}

// Render produces the user-visible string, prefixing degraded outcomes
// the way the chat UI expects.
func (r Result) Render() string {
	switch r.Kind {
	case KindOK:
		return r.Text
	case KindFallback:
		return "(fallback) " + r.Text
	case KindEmpty:
		return "(info) " + r.Text
	default:
		return "(error) " + r.Text
	}
}

func (r Result) OK() bool { return r.Kind == KindOK }

// Turn is one prior message as seen by prompt assembly.
type Turn struct {
	Role    string
	Content string
}

type ExplainPartial struct {
	Part    int    `json:"part"`
	Summary string `json:"summary"`
}

type Explanation struct {
	Partials []ExplainPartial
	Final    Result
}

// Gateway is the single point of contact with the hosted model. It is
// constructed once at startup with an explicit availability flag and
// injected into whatever needs it.
type Gateway struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig

	available bool

	// retry shape for transient call failures; tests shrink these
	retryInitial time.Duration
	retryMax     time.Duration
	maxRetries   uint64
}

func NewGateway(client *OpenAICompatibleClient, cfg ChatConfig) *Gateway {
	if client == nil {
		client = NewOpenAICompatibleClient()
	}
	available := cfg.BaseURL != "" && cfg.APIKey != "" && cfg.Model != ""
	if !available {
		log.WithField("component", "gateway").Warn("model not configured, gateway will serve fallbacks")
	}
	return &Gateway{
		client:       client,
		cfg:          cfg,
		available:    available,
		retryInitial: 1 * time.Second,
		retryMax:     8 * time.Second,
		maxRetries:   2,
	}
}

// Available reports whether the gateway was configured with a usable
// model at startup.
func (g *Gateway) Available() bool { return g.available }

// Chat renders the last 8 turns as alternating User:/Assistant: lines
// behind the system preamble and requests a bounded completion.
func (g *Gateway) Chat(ctx context.Context, message string, history []Turn) Result {
	if !g.available {
		return Result{Kind: KindFallback, Text: "Model not available."}
	}

	// File turns carry attachment metadata, not dialogue; the grounding
	// block already injects the file content.
	recent := make([]Turn, 0, len(history))
	for _, turn := range history {
		if turn.Role == "file" || strings.TrimSpace(turn.Content) == "" {
			continue
		}
		recent = append(recent, turn)
	}
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}

	lines := []string{"System: " + systemPreamble}
	for _, turn := range recent {
		label := "User"
		if turn.Role == "assistant" || turn.Role == "bot" {
			label = "Assistant"
		}
		lines = append(lines, label+": "+strings.TrimSpace(turn.Content))
	}
	lines = append(lines, "User: "+message, "Assistant:")

	return g.generate(ctx, strings.Join(lines, "\n"), GenParams{MaxTokens: 600, Temperature: 0.18, TopP: 0.9})
}

// Summarize chunks the input, summarizes each chunk independently and
// synthesizes a final bulleted summary from the partials.
func (g *Gateway) Summarize(ctx context.Context, text string, bullets int) Result {
	if !g.available {
		return Result{Kind: KindFallback, Text: "Model not available."}
	}
	if strings.TrimSpace(text) == "" {
		return Result{Kind: KindEmpty, Text: "No text provided."}
	}
	if bullets <= 0 {
		bullets = 3
	}

	parts := chunkText(text, maxChunkChars)
	partials := make([]string, 0, len(parts))
	for i, p := range parts {
		prompt := fmt.Sprintf("Summarize part %d/%d into %d bullet points:\n\n%s", i+1, len(parts), bullets, p)
		partials = append(partials, g.generate(ctx, prompt, GenParams{MaxTokens: 220, Temperature: 0.12}).Render())
	}

	synth := fmt.Sprintf(
		"Combine the partial summaries into a final concise summary with %d numbered bullet points:\n\n%s",
		bullets, strings.Join(partials, "\n\n"))
	return g.generate(ctx, synth, GenParams{MaxTokens: 300, Temperature: 0.12})
}

// Keywords asks the model for a JSON array of keyword strings. On
// malformed output it falls back to splitting on commas and newlines,
// de-duplicating, truncated to topK.
func (g *Gateway) Keywords(ctx context.Context, text string, topK int) []string {
	if !g.available || strings.TrimSpace(text) == "" {
		return []string{}
	}
	if topK <= 0 {
		topK = 8
	}

	prompt := fmt.Sprintf("Extract the top %d keywords. Return ONLY a JSON array of strings.\n\n%s", topK, text)
	// temperature 0: the JSON-array contract does not survive sampling
	res := g.generate(ctx, prompt, GenParams{MaxTokens: 150, Temperature: 0})
	if !res.OK() {
		return []string{}
	}

	var arr []string
	if err := json.Unmarshal([]byte(res.Text), &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, k := range arr {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
			if len(out) >= topK {
				break
			}
		}
		return out
	}
	return parseKeywordFallback(res.Text, topK)
}

// ExplainDocument follows the same chunk/summarize/synthesize shape as
// Summarize, but the synthesis asks for a short prose explanation plus
// numbered takeaways.
func (g *Gateway) ExplainDocument(ctx context.Context, text string, bullets int) Explanation {
	if !g.available {
		return Explanation{Final: Result{Kind: KindFallback, Text: "Model not available."}}
	}
	if strings.TrimSpace(text) == "" {
		return Explanation{Final: Result{Kind: KindEmpty, Text: "No text to explain."}}
	}
	if bullets <= 0 {
		bullets = 4
	}

	parts := chunkText(text, maxChunkChars)
	partials := make([]ExplainPartial, 0, len(parts))
	joined := make([]string, 0, len(parts))
	for i, p := range parts {
		prompt := fmt.Sprintf("Summarize part %d/%d into 2 bullet points:\n\n%s", i+1, len(parts), p)
		summary := g.generate(ctx, prompt, GenParams{MaxTokens: 300, Temperature: 0.12}).Render()
		partials = append(partials, ExplainPartial{Part: i + 1, Summary: summary})
		joined = append(joined, fmt.Sprintf("Part %d summary:\n%s", i+1, summary))
	}

	synth := fmt.Sprintf(
		"Using the partial summaries, provide:\n1) Short explanation (3-5 sentences)\n2) %d numbered key takeaways\n\n%s",
		bullets, strings.Join(joined, "\n\n"))
	final := g.generate(ctx, synth, GenParams{MaxTokens: 450, Temperature: 0.12})

	return Explanation{Partials: partials, Final: final}
}

// generate performs one completion with bounded exponential-backoff
// retries. Exhaustion degrades to a Result, never an error.
func (g *Gateway) generate(ctx context.Context, prompt string, params GenParams) Result {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.retryInitial
	expo.MaxInterval = g.retryMax

	text, err := backoff.RetryWithData(func() (string, error) {
		return g.client.Complete(ctx, g.cfg, []ChatMessage{{Role: "user", Content: prompt}}, params)
	}, backoff.WithContext(backoff.WithMaxRetries(expo, g.maxRetries), ctx))
	if err != nil {
		log.WithField("component", "gateway").WithError(err).Error("model call failed")
		return Result{Kind: KindError, Text: err.Error()}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Kind: KindEmpty, Text: "Empty model response."}
	}
	return Result{Kind: KindOK, Text: text}
}

// parseKeywordFallback recovers keywords from non-JSON model output.
func parseKeywordFallback(raw string, topK int) []string {
	out := make([]string, 0, topK)
	seen := make(map[string]bool)
	for _, p := range strings.Split(strings.ReplaceAll(raw, "\n", ","), ",") {
		p = strings.Trim(p, " \"'[]{}")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) >= topK {
			break
		}
	}
	return out
}

// chunkText splits text into chunks of at most maxChars characters,
// preferring to cut after a newline or sentence end. A cut point is
// only honoured when it falls past half the chunk budget.
func chunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		} else {
			window := runes[start:end]
			cut := -1
			for i := len(window) - 1; i >= 0; i-- {
				if window[i] == '\n' {
					cut = i
					break
				}
				if window[i] == '.' && i+1 < len(window) && window[i+1] == ' ' {
					cut = i
					break
				}
			}
			if cut > maxChars/2 {
				end = start + cut + 1
			}
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		start = end
	}
	return chunks
}
