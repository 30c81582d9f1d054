package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/cyberrag/internal/logging"
	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/pkg/config"
	"github.com/xhad/cyberrag/pkg/llm"
	"github.com/xhad/cyberrag/pkg/memory"
	"github.com/xhad/cyberrag/pkg/pipeline"
)

type stubRetriever struct {
	results []models.SearchResult
	err     error
	lastK   int
	calls   int
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	r.calls++
	r.lastK = topK
	return r.results, r.err
}

// scriptedModel replies with fixed fragments and records the prompt it saw.
type scriptedModel struct {
	fragments []string
	err       error
	seen      []llms.MessageContent
	options   llms.CallOptions
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.seen = messages
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	m.options = opts
	if m.err != nil {
		return nil, m.err
	}
	if opts.StreamingFunc != nil {
		for _, f := range m.fragments {
			if err := opts.StreamingFunc(ctx, []byte(f)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.fragments, "")}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

var xssContext = []models.SearchResult{
	{Chunk: models.Chunk{ID: "1", Text: "Use output encoding to prevent XSS.", Metadata: map[string]interface{}{"source": "xss.md"}}, Distance: 0.1},
	{Chunk: models.Chunk{ID: "2", Text: "Content Security Policy limits script sources."}, Distance: 0.4},
}

func newPipeline(t *testing.T, ret *stubRetriever, model *scriptedModel) (*pipeline.Orchestrator, *memory.Buffer) {
	t.Helper()

	buffer, err := memory.New(6)
	require.NoError(t, err)

	client := llm.NewWithModel(llm.ChatConfig{Model: "qwen:0.5b", Temperature: 0.7, Logger: logging.Discard()}, model)
	o, err := pipeline.New(pipeline.Components{
		Retriever: ret,
		Client:    client,
		Buffer:    buffer,
		TopK:      3,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return o, buffer
}

func TestProcessEmptyQuery(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	o, buffer := newPipeline(t, ret, &scriptedModel{fragments: []string{"x"}})

	for _, stream := range []bool{false, true} {
		answer := o.Process(context.Background(), "  \t ", pipeline.ProcessOptions{Stream: stream})

		assert.False(t, answer.Result.OK())
		assert.Equal(t, models.KindInvalidInput, answer.Result.Kind())
		assert.Equal(t, "Error: Query cannot be empty.", answer.String())
		assert.NotNil(t, answer.Contexts)
		assert.Empty(t, answer.Contexts)
	}
	assert.Equal(t, 0, buffer.Len())
	assert.Equal(t, 0, ret.calls)
}

func TestProcessRecordsBothTurns(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	model := &scriptedModel{fragments: []string{"Encode ", "output."}}
	o, _ := newPipeline(t, ret, model)

	answer := o.Process(context.Background(), "How to prevent XSS attacks?", pipeline.ProcessOptions{})
	require.True(t, answer.Result.OK())
	assert.Equal(t, "Encode output.", answer.String())
	assert.Equal(t, []string{xssContext[0].Chunk.Text, xssContext[1].Chunk.Text}, answer.Contexts)
	assert.Equal(t, 3, ret.lastK)

	history := o.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "How to prevent XSS attacks?"}, history[0])
	assert.Equal(t, models.Message{Role: models.RoleAssistant, Content: "Encode output."}, history[1])
}

func TestProcessUsesPriorHistory(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	model := &scriptedModel{fragments: []string{"answer"}}
	o, _ := newPipeline(t, ret, model)

	o.Process(context.Background(), "first question", pipeline.ProcessOptions{})
	o.Process(context.Background(), "second question", pipeline.ProcessOptions{TopK: 1})
	assert.Equal(t, 1, ret.lastK)

	// system, user, assistant, final user
	require.Len(t, model.seen, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.seen[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.seen[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.seen[2].Role)

	last, ok := model.seen[3].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, last.Text, `USER QUERY: "second question"`)
	assert.Contains(t, last.Text, "[Context Snippet 2 from: Unknown Source]")
}

func TestProcessPassesZeroTemperature(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	model := &scriptedModel{fragments: []string{"ok"}}
	o, _ := newPipeline(t, ret, model)

	o.Process(context.Background(), "q", pipeline.ProcessOptions{LLM: llm.Options{Temperature: llm.Temperature(0), MaxTokens: 64}})
	assert.Equal(t, 0.0, model.options.Temperature)
	assert.Equal(t, 64, model.options.MaxTokens)
}

func TestProcessStreamRecordsUserTurnOnly(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	o, _ := newPipeline(t, ret, &scriptedModel{fragments: []string{"Use ", "CSP", "."}})

	answer := o.Process(context.Background(), "How to prevent XSS attacks?", pipeline.ProcessOptions{Stream: true})
	require.True(t, answer.Result.OK())
	assert.Equal(t, "Use CSP.", answer.Result.Text())

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)

	require.NoError(t, o.AddAssistantTurn(answer.Result.Text()))
	require.NoError(t, o.AddAssistantTurn("   "))
	history = o.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Use CSP.", history[1].Content)
}

func TestProcessTransportFailure(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	o, buffer := newPipeline(t, ret, &scriptedModel{err: errors.New("dial tcp 127.0.0.1:11434: connection refused")})

	answer := o.Process(context.Background(), "What is nmap?", pipeline.ProcessOptions{})
	assert.False(t, answer.Result.OK())
	assert.Equal(t, models.KindTransport, answer.Result.Kind())
	assert.True(t, strings.HasPrefix(answer.String(), "Error: LLM request failed:"))
	assert.Contains(t, answer.String(), "Please ensure model 'qwen:0.5b' is pulled")
	assert.Len(t, answer.Contexts, 2)
	assert.Equal(t, 0, buffer.Len())
}

func TestProcessStreamTransportFailure(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	o, buffer := newPipeline(t, ret, &scriptedModel{err: errors.New("model \"qwen:0.5b\" not found")})

	answer := o.Process(context.Background(), "What is nmap?", pipeline.ProcessOptions{Stream: true})
	assert.Equal(t, models.KindTransport, answer.Result.Kind())
	assert.Equal(t, 1, buffer.Len())
}

func TestProcessRetrievalFailure(t *testing.T) {
	ret := &stubRetriever{err: models.Errorf(models.KindInvalidInput, "search", "query dimension 2 does not match index dimension 3")}
	o, buffer := newPipeline(t, ret, &scriptedModel{fragments: []string{"unused"}})

	answer := o.Process(context.Background(), "q", pipeline.ProcessOptions{})
	assert.False(t, answer.Result.OK())
	assert.Empty(t, answer.Contexts)
	assert.Equal(t, 0, buffer.Len())
}

func TestProcessNoContextStillAsks(t *testing.T) {
	ret := &stubRetriever{}
	model := &scriptedModel{fragments: []string{"Information not available in the provided context."}}
	o, _ := newPipeline(t, ret, model)

	answer := o.Process(context.Background(), "Who won the 1998 world cup?", pipeline.ProcessOptions{})
	require.True(t, answer.Result.OK())
	assert.NotNil(t, answer.Contexts)
	assert.Empty(t, answer.Contexts)

	last := model.seen[len(model.seen)-1].Parts[0].(llms.TextContent)
	assert.Contains(t, last.Text, "No relevant documents found.")
}

func TestStreamQuery(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	o, _ := newPipeline(t, ret, &scriptedModel{fragments: []string{"a", "b"}})

	stream, contexts, err := o.StreamQuery(context.Background(), "q", pipeline.ProcessOptions{})
	require.NoError(t, err)
	defer stream.Close()
	assert.Len(t, contexts, 2)

	var got []string
	for stream.Next() {
		got = append(got, stream.Text())
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Len(t, o.History(), 1)

	_, contexts, err = o.StreamQuery(context.Background(), "", pipeline.ProcessOptions{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.NotNil(t, contexts)
}

func TestHistoryIsBoundedAndResettable(t *testing.T) {
	ret := &stubRetriever{results: xssContext}
	o, buffer := newPipeline(t, ret, &scriptedModel{fragments: []string{"ok"}})

	for i := 0; i < 5; i++ {
		o.Process(context.Background(), "question", pipeline.ProcessOptions{})
	}
	assert.Equal(t, buffer.MaxLength(), len(o.History()))

	o.Reset()
	assert.Empty(t, o.History())
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := pipeline.New(pipeline.Components{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestNewWithConfigStoreNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a local embedding backend")
	}

	cfg := config.Default()
	cfg.Store.Dir = t.TempDir()

	_, err := pipeline.NewWithConfig(context.Background(), cfg, logging.Discard())
	if models.KindOf(err) == models.KindModelUnavailable {
		t.Skip("embedding backend unavailable")
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreNotFound)
	assert.Contains(t, err.Error(), "cyberrag build")
}
