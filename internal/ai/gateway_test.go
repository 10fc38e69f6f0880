package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonDecode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := NewGateway(NewOpenAICompatibleClient(), ChatConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
	g.retryInitial = time.Millisecond
	g.retryMax = 5 * time.Millisecond
	return g
}

func completionHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":` + jsonString(content) + `}}]}`))
	}
}

func jsonString(s string) string {
	replaced := strings.ReplaceAll(s, `\`, `\\`)
	replaced = strings.ReplaceAll(replaced, `"`, `\"`)
	replaced = strings.ReplaceAll(replaced, "\n", `\n`)
	return `"` + replaced + `"`
}

func TestGatewayUnavailableWithoutConfig(t *testing.T) {
	g := NewGateway(nil, ChatConfig{})
	assert.False(t, g.Available())

	res := g.Chat(context.Background(), "hello", nil)
	assert.Equal(t, KindFallback, res.Kind)
	assert.Equal(t, "(fallback) Model not available.", res.Render())

	sum := g.Summarize(context.Background(), "some text", 3)
	assert.Equal(t, KindFallback, sum.Kind)

	assert.Empty(t, g.Keywords(context.Background(), "some text", 5))
}

func TestChatIncludesHistoryWindow(t *testing.T) {
	var gotPrompt atomic.Value
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []ChatMessage `json:"messages"`
		}
		require.NoError(t, jsonDecode(r, &req))
		require.Len(t, req.Messages, 1)
		gotPrompt.Store(req.Messages[0].Content)
		completionHandler("hi there")(w, r)
	})

	history := make([]Turn, 0, 12)
	for i := 0; i < 12; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, Turn{Role: role, Content: "turn"})
	}

	res := g.Chat(context.Background(), "question", history)
	require.True(t, res.OK())
	assert.Equal(t, "hi there", res.Text)

	prompt := gotPrompt.Load().(string)
	assert.True(t, strings.HasPrefix(prompt, "System: "))
	assert.True(t, strings.HasSuffix(prompt, "User: question\nAssistant:"))
	// 8 history lines + system + user + trailing cue
	assert.Equal(t, 11, len(strings.Split(prompt, "\n")))
}

func TestChatHistorySkipsFileTurns(t *testing.T) {
	var gotPrompt atomic.Value
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []ChatMessage `json:"messages"`
		}
		require.NoError(t, jsonDecode(r, &req))
		gotPrompt.Store(req.Messages[0].Content)
		completionHandler("ok")(w, r)
	})

	history := []Turn{
		{Role: "user", Content: "please read this"},
		{Role: "file", Content: `{"file_id":"abc_report.pdf","original_name":"report.pdf"}`},
		{Role: "assistant", Content: "noted"},
	}
	res := g.Chat(context.Background(), "what does it say", history)
	require.True(t, res.OK())

	prompt := gotPrompt.Load().(string)
	assert.NotContains(t, prompt, "file_id")
	assert.NotContains(t, prompt, "report.pdf")
	assert.Contains(t, prompt, "User: please read this")
	assert.Contains(t, prompt, "Assistant: noted")
}

func TestChatRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		completionHandler("recovered")(w, r)
	})

	res := g.Chat(context.Background(), "hello", nil)
	require.True(t, res.OK())
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatDegradesToErrorResultOnExhaustion(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permanently down", http.StatusInternalServerError)
	})

	res := g.Chat(context.Background(), "hello", nil)
	assert.Equal(t, KindError, res.Kind)
	assert.True(t, strings.HasPrefix(res.Render(), "(error) "))
}

func TestKeywordsParsesJSONArray(t *testing.T) {
	g := newTestGateway(t, completionHandler(`["go", "chat", "ocr"]`))

	keywords := g.Keywords(context.Background(), "long text about go", 5)
	assert.Equal(t, []string{"go", "chat", "ocr"}, keywords)
}

func TestKeywordsFallbackOnMalformedJSON(t *testing.T) {
	g := newTestGateway(t, completionHandler("go, chat\nocr, go, , chat"))

	keywords := g.Keywords(context.Background(), "long text", 3)
	assert.Equal(t, []string{"go", "chat", "ocr"}, keywords)
}

func TestKeywordsPinsDeterministicSampling(t *testing.T) {
	var got map[string]interface{}
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, jsonDecode(r, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[\"go\"]"}}]}`))
	})

	g.Keywords(context.Background(), "long text about go", 5)

	require.Contains(t, got, "temperature")
	assert.InDelta(t, 0.0, got["temperature"], 1e-9)
	require.Contains(t, got, "top_p")
	assert.InDelta(t, 0.9, got["top_p"], 1e-9)
}

func TestParseKeywordFallback(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		topK int
		want []string
	}{
		{
			name: "comma separated with quotes",
			raw:  `"alpha", 'beta', [gamma]`,
			topK: 5,
			want: []string{"alpha", "beta", "gamma"},
		},
		{
			name: "newlines and duplicates",
			raw:  "alpha\nbeta\nalpha\n\n",
			topK: 5,
			want: []string{"alpha", "beta"},
		},
		{
			name: "respects topK",
			raw:  "a, b, c, d",
			topK: 2,
			want: []string{"a", "b"},
		},
		{
			name: "all empty",
			raw:  ", , ,",
			topK: 3,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseKeywordFallback(tt.raw, tt.topK))
		})
	}
}

func TestSummarizeEmptyText(t *testing.T) {
	g := newTestGateway(t, completionHandler("unused"))
	res := g.Summarize(context.Background(), "   ", 3)
	assert.Equal(t, KindEmpty, res.Kind)
	assert.Equal(t, "(info) No text provided.", res.Render())
}

func TestExplainDocumentChunksLongInput(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		completionHandler("partial summary")(w, r)
	})

	long := strings.Repeat("This is a sentence about the document. ", 300)
	explanation := g.ExplainDocument(context.Background(), long, 4)

	require.True(t, explanation.Final.OK())
	assert.GreaterOrEqual(t, len(explanation.Partials), 2)
	for i, p := range explanation.Partials {
		assert.Equal(t, i+1, p.Part)
		assert.NotEmpty(t, p.Summary)
	}
	// one call per chunk plus the synthesis call
	assert.Equal(t, int32(len(explanation.Partials)+1), calls.Load())
}

func TestResultRender(t *testing.T) {
	assert.Equal(t, "plain", Result{Kind: KindOK, Text: "plain"}.Render())
	assert.Equal(t, "(fallback) x", Result{Kind: KindFallback, Text: "x"}.Render())
	assert.Equal(t, "(info) x", Result{Kind: KindEmpty, Text: "x"}.Render())
	assert.Equal(t, "(error) x", Result{Kind: KindError, Text: "x"}.Render())
}

func TestChunkTextRespectsLimit(t *testing.T) {
	text := strings.Repeat("A reasonably long sentence that ends here. ", 500)
	chunks := chunkText(text, maxChunkChars)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), maxChunkChars)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunkTextPreservesContent(t *testing.T) {
	text := strings.Repeat("Line one.\nLine two is a bit longer. ", 400)
	chunks := chunkText(text, 1000)

	strip := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	assert.Equal(t, strip(text), strip(strings.Join(chunks, " ")))
}

func TestChunkTextShortInput(t *testing.T) {
	assert.Equal(t, []string{"short"}, chunkText("  short  ", 100))
	assert.Nil(t, chunkText("   ", 100))
}

func TestChunkTextPrefersSentenceBoundary(t *testing.T) {
	// A boundary past the half-budget mark should win over a hard cut.
	text := strings.Repeat("x", 80) + ". " + strings.Repeat("y", 80)
	chunks := chunkText(text, 100)

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasSuffix(chunks[0], "."))
	assert.Equal(t, strings.Repeat("y", 80), chunks[1])
}

func TestChunkTextIgnoresEarlyBoundary(t *testing.T) {
	// A boundary before the half-budget mark is ignored; the chunk is
	// cut at the hard limit instead.
	text := "Hi. " + strings.Repeat("z", 200)
	chunks := chunkText(text, 100)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 100, len([]rune(chunks[0])))
}
