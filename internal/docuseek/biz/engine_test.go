package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuseek/docuseek/internal/docuseek/store"
	"github.com/docuseek/docuseek/internal/model"
	"github.com/docuseek/docuseek/pkg/llm"
)

// mockEmbedder 可注入失败和副作用的 Embedding 桩。
type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = []float32{1, 0}
	}
	return embeddings, nil
}

func (m *mockEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (m *mockEmbedder) Name() string { return "mock-embed" }

// mockChat 记录最后一次提示词与消息序列的 Chat 桩。
type mockChat struct {
	generateFn   func(ctx context.Context, prompt string, opts *llm.GenerateOptions) (string, error)
	chatFn       func(ctx context.Context, messages []llm.Message) (string, error)
	lastPrompt   string
	lastOpts     *llm.GenerateOptions
	lastMessages []llm.Message
	calls        int
	chatCalls    int
}

func (m *mockChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	m.chatCalls++
	m.lastMessages = messages
	if m.chatFn != nil {
		return m.chatFn(ctx, messages)
	}
	return "conversation answer", nil
}

func (m *mockChat) Generate(ctx context.Context, prompt string, opts *llm.GenerateOptions) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	m.lastOpts = opts
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt, opts)
	}
	return "generated answer", nil
}

func (m *mockChat) Name() string { return "mock-chat" }

// spyIndex 统计写入调用次数。
type spyIndex struct {
	store.VectorIndex
	addCalls int
	addErr   error
}

func (s *spyIndex) Add(ctx context.Context, entries []*store.IndexEntry) error {
	s.addCalls++
	if s.addErr != nil {
		return s.addErr
	}
	return s.VectorIndex.Add(ctx, entries)
}

func newTestEngine(t *testing.T, index store.VectorIndex, embedder llm.EmbeddingProvider, chat llm.ChatProvider, opts ...EngineOption) *Engine {
	t.Helper()
	chunker, err := NewChunker(1000, 200)
	require.NoError(t, err)

	cfg := DefaultEngineConfig()
	e, err := NewEngine(chunker, index, embedder, chat, nil, cfg, opts...)
	require.NoError(t, err)
	return e
}

func seedIndex(t *testing.T, index store.VectorIndex, entries ...*store.IndexEntry) {
	t.Helper()
	require.NoError(t, index.CreateCollection(context.Background(), &store.CollectionConfig{
		Name:      "test",
		Dimension: 2,
	}))
	require.NoError(t, index.Add(context.Background(), entries))
}

func indexEntry(chunkID string, seq int, text string, embedding []float32) *store.IndexEntry {
	return &store.IndexEntry{
		ChunkID:       chunkID,
		Embedding:     embedding,
		Content:       text,
		DocumentID:    "doc-1",
		DocumentName:  "doc.txt",
		FileType:      ".txt",
		SequenceIndex: seq,
	}
}

func TestQueryStateSequence(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "relevant text", []float32{1, 0}))

	var states []State
	e := newTestEngine(t, index, &mockEmbedder{}, &mockChat{}, WithStateObserver(func(s State) {
		states = append(states, s)
	}))

	result, err := e.Query(context.Background(), &model.QueryRequest{Question: "what?"})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", result.Answer)

	assert.Equal(t, []State{
		StateIdle, StateEmbedding, StateRetrieving, StateAssembling, StateGenerating, StateDone,
	}, states)
}

func TestQuerySourcesMatchPrompt(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index,
		indexEntry("c1", 0, "alpha passage", []float32{1, 0}),
		indexEntry("c2", 1, "beta passage", []float32{0.99, 0.01}),
	)

	chat := &mockChat{}
	e := newTestEngine(t, index, &mockEmbedder{}, chat)

	result, err := e.Query(context.Background(), &model.QueryRequest{Question: "what?"})
	require.NoError(t, err)

	// 引用来源与提示词内容严格一致
	require.NotEmpty(t, result.Sources)
	for _, src := range result.Sources {
		assert.Contains(t, chat.lastPrompt, src.Text)
	}
	assert.Contains(t, chat.lastPrompt, "what?")
}

func TestQuerySourcesTruncatedByBudget(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index,
		indexEntry("c1", 0, strings.Repeat("a", 100), []float32{1, 0}),
		indexEntry("c2", 1, strings.Repeat("b", 100), []float32{0.999, 0.001}),
	)

	chunker, err := NewChunker(1000, 200)
	require.NoError(t, err)
	cfg := DefaultEngineConfig()
	cfg.SimilarityThreshold = 0.5
	cfg.MaxPromptLength = 300 // 只够容纳一块
	chat := &mockChat{}
	e, err := NewEngine(chunker, index, &mockEmbedder{}, chat, nil, cfg)
	require.NoError(t, err)

	result, err := e.Query(context.Background(), &model.QueryRequest{Question: "q"})
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "c1", result.Sources[0].ChunkID)
	assert.Contains(t, chat.lastPrompt, strings.Repeat("a", 100))
	assert.NotContains(t, chat.lastPrompt, strings.Repeat("b", 100))
}

func TestQueryEmptyRetrievalGraceful(t *testing.T) {
	index := store.NewMemoryIndex()
	require.NoError(t, index.CreateCollection(context.Background(), &store.CollectionConfig{Name: "test", Dimension: 2}))

	chat := &mockChat{}
	e := newTestEngine(t, index, &mockEmbedder{}, chat)

	result, err := e.Query(context.Background(), &model.QueryRequest{Question: "unknown topic"})
	require.NoError(t, err)

	assert.Equal(t, "generated answer", result.Answer)
	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
	assert.Contains(t, chat.lastPrompt, "No relevant context")
	assert.Equal(t, 1, chat.calls, "降级路径仍然走正常生成")
}

func TestQueryParamValidation(t *testing.T) {
	index := store.NewMemoryIndex()
	embedder := &mockEmbedder{}
	e := newTestEngine(t, index, embedder, &mockChat{})

	bad := -0.5
	big := 1.5
	tests := []struct {
		name string
		req  *model.QueryRequest
	}{
		{"空问题", &model.QueryRequest{Question: ""}},
		{"负 top_k", &model.QueryRequest{Question: "q", TopK: -1}},
		{"阈值为负", &model.QueryRequest{Question: "q", SimilarityThreshold: &bad}},
		{"阈值大于一", &model.QueryRequest{Question: "q", SimilarityThreshold: &big}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Query(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	// 校验失败发生在任何协作方调用之前
	assert.Equal(t, 0, embedder.calls)
}

func TestQueryEmbeddingFailure(t *testing.T) {
	index := store.NewMemoryIndex()
	embedder := &mockEmbedder{embedFn: func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("connection refused")
	}}

	var states []State
	e := newTestEngine(t, index, embedder, &mockChat{}, WithStateObserver(func(s State) {
		states = append(states, s)
	}))

	_, err := e.Query(context.Background(), &model.QueryRequest{Question: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmbeddingUnavailable))
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func TestQueryGenerationFailure(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "text", []float32{1, 0}))

	chat := &mockChat{generateFn: func(context.Context, string, *llm.GenerateOptions) (string, error) {
		return "", fmt.Errorf("model overloaded")
	}}
	e := newTestEngine(t, index, &mockEmbedder{}, chat)

	_, err := e.Query(context.Background(), &model.QueryRequest{Question: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationUnavailable))
}

func TestQueryCancelled(t *testing.T) {
	index := store.NewMemoryIndex()
	embedder := &mockEmbedder{}
	e := newTestEngine(t, index, embedder, &mockChat{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Query(ctx, &model.QueryRequest{Question: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, embedder.calls)
}

func TestQueryGenerateOptionsFromConfig(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "text", []float32{1, 0}))

	chat := &mockChat{}
	chunker, err := NewChunker(1000, 200)
	require.NoError(t, err)
	cfg := DefaultEngineConfig()
	cfg.Temperature = 0.3
	cfg.MaxTokens = 512
	cfg.SystemPrompt = "be concise"
	e, err := NewEngine(chunker, index, &mockEmbedder{}, chat, nil, cfg)
	require.NoError(t, err)

	_, err = e.Query(context.Background(), &model.QueryRequest{Question: "q"})
	require.NoError(t, err)

	require.NotNil(t, chat.lastOpts)
	assert.InDelta(t, 0.3, chat.lastOpts.Temperature, 1e-9)
	assert.Equal(t, 512, chat.lastOpts.MaxTokens)
	assert.Equal(t, "be concise", chat.lastOpts.SystemPrompt)
}

func TestQueryConversation(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "relevant passage", []float32{1, 0}))

	chat := &mockChat{}
	chunker, err := NewChunker(1000, 200)
	require.NoError(t, err)
	cfg := DefaultEngineConfig()
	cfg.SystemPrompt = "be concise"
	e, err := NewEngine(chunker, index, &mockEmbedder{}, chat, nil, cfg)
	require.NoError(t, err)

	result, err := e.QueryConversation(context.Background(), &model.ConversationQueryRequest{
		Question: "and what about that?",
		History: []model.ConversationMessage{
			{Role: "user", Content: "tell me about alpha"},
			{Role: "assistant", Content: "alpha is a passage"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "conversation answer", result.Answer)
	assert.NotEmpty(t, result.Sources)
	assert.Equal(t, 1, chat.chatCalls)
	assert.Equal(t, 0, chat.calls, "多轮问答走 Chat 而非 Generate")

	// 消息顺序：system、历史、组装后的提示词
	require.Len(t, chat.lastMessages, 4)
	assert.Equal(t, llm.RoleSystem, chat.lastMessages[0].Role)
	assert.Equal(t, "be concise", chat.lastMessages[0].Content)
	assert.Equal(t, llm.RoleUser, chat.lastMessages[1].Role)
	assert.Equal(t, "tell me about alpha", chat.lastMessages[1].Content)
	assert.Equal(t, llm.RoleAssistant, chat.lastMessages[2].Role)

	final := chat.lastMessages[3]
	assert.Equal(t, llm.RoleUser, final.Role)
	assert.Contains(t, final.Content, "relevant passage")
	assert.Contains(t, final.Content, "and what about that?")
}

func TestQueryConversationHistoryTrimmed(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "text", []float32{1, 0}))

	chat := &mockChat{}
	e := newTestEngine(t, index, &mockEmbedder{}, chat)

	var history []model.ConversationMessage
	for i := 0; i < 5; i++ {
		history = append(history,
			model.ConversationMessage{Role: "user", Content: fmt.Sprintf("question %d", i)},
			model.ConversationMessage{Role: "assistant", Content: fmt.Sprintf("answer %d", i)},
		)
	}

	_, err := e.QueryConversation(context.Background(), &model.ConversationQueryRequest{
		Question: "q",
		History:  history,
	})
	require.NoError(t, err)

	// 只保留最近三轮历史（六条消息）加最终提示词
	require.Len(t, chat.lastMessages, 7)
	assert.Equal(t, "question 2", chat.lastMessages[0].Content)
	assert.Equal(t, "answer 4", chat.lastMessages[5].Content)
}

func TestQueryConversationInvalidHistory(t *testing.T) {
	index := store.NewMemoryIndex()
	embedder := &mockEmbedder{}
	e := newTestEngine(t, index, embedder, &mockChat{})

	tests := []struct {
		name    string
		history []model.ConversationMessage
	}{
		{"非法角色", []model.ConversationMessage{{Role: "tool", Content: "x"}}},
		{"空内容", []model.ConversationMessage{{Role: "user", Content: ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.QueryConversation(context.Background(), &model.ConversationQueryRequest{
				Question: "q",
				History:  tt.history,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	assert.Equal(t, 0, embedder.calls)
}

func TestQueryConversationGenerationFailure(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "text", []float32{1, 0}))

	chat := &mockChat{chatFn: func(context.Context, []llm.Message) (string, error) {
		return "", fmt.Errorf("model overloaded")
	}}

	var states []State
	e := newTestEngine(t, index, &mockEmbedder{}, chat, WithStateObserver(func(s State) {
		states = append(states, s)
	}))

	_, err := e.QueryConversation(context.Background(), &model.ConversationQueryRequest{Question: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationUnavailable))
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func newDoc(text string) *model.Document {
	return &model.Document{
		ID:      "doc-1",
		RawText: text,
		Metadata: model.DocumentMetadata{
			Filename: "doc.txt",
			FileType: ".txt",
		},
	}
}

func TestIngestSuccess(t *testing.T) {
	memory := store.NewMemoryIndex()
	require.NoError(t, memory.CreateCollection(context.Background(), &store.CollectionConfig{Name: "test", Dimension: 2}))
	index := &spyIndex{VectorIndex: memory}

	e := newTestEngine(t, index, &mockEmbedder{}, &mockChat{})

	result, err := e.Ingest(context.Background(), newDoc(strings.Repeat("a", 2500)))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", result.DocumentID)
	assert.Equal(t, 3, result.ChunksAdded) // 2500 字符按 (1000, 200) 切为 3 块
	assert.Equal(t, 1, index.addCalls, "全部分块单次提交")

	count, err := memory.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestIngestEmptyDocument(t *testing.T) {
	memory := store.NewMemoryIndex()
	index := &spyIndex{VectorIndex: memory}
	e := newTestEngine(t, index, &mockEmbedder{}, &mockChat{})

	result, err := e.Ingest(context.Background(), newDoc(""))
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunksAdded)
	assert.Equal(t, 0, index.addCalls)
}

func TestIngestEmbeddingFailureNothingCommitted(t *testing.T) {
	memory := store.NewMemoryIndex()
	index := &spyIndex{VectorIndex: memory}
	embedder := &mockEmbedder{embedFn: func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("embedding service down")
	}}
	e := newTestEngine(t, index, embedder, &mockChat{})

	_, err := e.Ingest(context.Background(), newDoc("some document text"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestFailed))
	assert.Equal(t, 0, index.addCalls, "嵌入失败时不应触达索引")

	count, err := memory.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIngestCommitFailure(t *testing.T) {
	memory := store.NewMemoryIndex()
	index := &spyIndex{VectorIndex: memory, addErr: fmt.Errorf("index write failed")}
	e := newTestEngine(t, index, &mockEmbedder{}, &mockChat{})

	_, err := e.Ingest(context.Background(), newDoc("some document text"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIngestFailed))
}

func TestIngestCancelledBeforeCommit(t *testing.T) {
	memory := store.NewMemoryIndex()
	index := &spyIndex{VectorIndex: memory}

	ctx, cancel := context.WithCancel(context.Background())
	embedder := &mockEmbedder{embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
		// 嵌入完成后、提交前请求被取消
		cancel()
		embeddings := make([][]float32, len(texts))
		for i := range texts {
			embeddings[i] = []float32{1, 0}
		}
		return embeddings, nil
	}}
	e := newTestEngine(t, index, embedder, &mockChat{})

	_, err := e.Ingest(ctx, newDoc("some document text"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, index.addCalls, "取消后索引保持不变")
}

func TestDeleteDocument(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index,
		indexEntry("c1", 0, "text", []float32{1, 0}),
		indexEntry("c2", 1, "text", []float32{0, 1}),
	)

	e := newTestEngine(t, index, &mockEmbedder{}, &mockChat{})
	require.NoError(t, e.DeleteDocument(context.Background(), "doc-1"))

	count, err := index.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	err = e.DeleteDocument(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestStats(t *testing.T) {
	index := store.NewMemoryIndex()
	seedIndex(t, index, indexEntry("c1", 0, "text", []float32{1, 0}))

	e := newTestEngine(t, index, &mockEmbedder{}, &mockChat{})
	stats, err := e.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats["chunk_count"])
	assert.Equal(t, "mock-embed", stats["embedding_provider"])
	assert.Equal(t, "mock-chat", stats["chat_provider"])
	assert.Contains(t, stats, "metrics")
}
