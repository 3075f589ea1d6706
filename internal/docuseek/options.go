// Package docuseek assembles the docuseek knowledge base service.
package docuseek

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	httpopts "github.com/docuseek/docuseek/pkg/options/http"
	logopts "github.com/docuseek/docuseek/pkg/options/logger"
	milvusopts "github.com/docuseek/docuseek/pkg/options/milvus"
	redisopts "github.com/docuseek/docuseek/pkg/options/redis"
)

// Store backends.
const (
	StoreBackendMilvus = "milvus"
	StoreBackendMemory = "memory"
)

// Options contains all docuseek service options.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Milvus contains Milvus client configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Embedding contains embedding provider configuration.
	Embedding *LLMProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains chat provider configuration.
	Chat *LLMProviderOptions `json:"chat" mapstructure:"chat"`

	// RAG contains retrieval and generation configuration.
	RAG *RAGOptions `json:"rag" mapstructure:"rag"`

	// Cache contains query and embedding cache configuration.
	Cache *CacheOptions `json:"cache" mapstructure:"cache"`
}

// LLMProviderOptions 定义 LLM 供应商配置。
type LLMProviderOptions struct {
	// Provider 供应商名称（ollama, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（OpenAI 需要）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`
}

// NewLLMProviderOptions 创建默认 LLM 供应商配置。
func NewLLMProviderOptions() *LLMProviderOptions {
	return &LLMProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *LLMProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"chat_model":   o.Model,
		"timeout":      o.Timeout,
		"max_retries":  o.MaxRetries,
		"organization": o.Organization,
	}
}

// RAGOptions contains retrieval and generation configuration.
type RAGOptions struct {
	// ChunkSize is the chunk window size in Unicode characters.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between adjacent chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the default number of chunks to retrieve per query.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// SimilarityThreshold is the default relevance cutoff in [0, 1].
	SimilarityThreshold float64 `json:"similarity-threshold" mapstructure:"similarity-threshold"`

	// MaxPromptLength is the prompt budget in Unicode characters.
	MaxPromptLength int `json:"max-prompt-length" mapstructure:"max-prompt-length"`

	// Temperature is the generation temperature.
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxTokens is the maximum number of generated tokens.
	MaxTokens int `json:"max-tokens" mapstructure:"max-tokens"`

	// SystemPrompt is the system prompt passed to the chat provider.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// StoreBackend selects the vector index backend (milvus, memory).
	StoreBackend string `json:"store-backend" mapstructure:"store-backend"`

	// Collection is the name of the vector collection.
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim is the dimension of embedding vectors.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// UploadDir is the directory for staging uploaded files.
	UploadDir string `json:"upload-dir" mapstructure:"upload-dir"`

	// AllowedExtensions lists the file extensions accepted for upload.
	AllowedExtensions []string `json:"allowed-extensions" mapstructure:"allowed-extensions"`
}

// NewRAGOptions creates new RAGOptions with defaults.
func NewRAGOptions() *RAGOptions {
	return &RAGOptions{
		ChunkSize:           1000,
		ChunkOverlap:        200,
		TopK:                5,
		SimilarityThreshold: 0.7,
		MaxPromptLength:     8000,
		Temperature:         0.7,
		MaxTokens:           2048,
		StoreBackend:        StoreBackendMilvus,
		Collection:          "docuseek_chunks",
		EmbeddingDim:        768, // nomic-embed-text dimension
		UploadDir:           "_output/uploads",
		AllowedExtensions:   []string{".pdf", ".docx", ".pptx", ".txt", ".md"},
	}
}

// CacheOptions 缓存配置。
type CacheOptions struct {
	// QueryEnabled 是否启用查询结果缓存。
	QueryEnabled bool `json:"query-enabled" mapstructure:"query-enabled"`

	// QueryTTL 查询缓存过期时间。
	QueryTTL time.Duration `json:"query-ttl" mapstructure:"query-ttl"`

	// EmbeddingEnabled 是否启用嵌入向量缓存。
	EmbeddingEnabled bool `json:"embedding-enabled" mapstructure:"embedding-enabled"`

	// EmbeddingTTL 嵌入缓存过期时间。
	EmbeddingTTL time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`

	// Redis Redis 连接配置。
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewCacheOptions 创建默认缓存配置。
func NewCacheOptions() *CacheOptions {
	return &CacheOptions{
		QueryEnabled:     false,
		QueryTTL:         1 * time.Hour,
		EmbeddingEnabled: false,
		EmbeddingTTL:     24 * time.Hour,
		Redis:            redisopts.NewOptions(),
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	embeddingOpts := NewLLMProviderOptions()
	embeddingOpts.Model = "nomic-embed-text"

	chatOpts := NewLLMProviderOptions()
	chatOpts.Model = "qwen2.5:7b"

	return &Options{
		HTTP:      httpopts.NewOptions(),
		Log:       logopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Embedding: embeddingOpts,
		Chat:      chatOpts,
		RAG:       NewRAGOptions(),
		Cache:     NewCacheOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Cache.Redis.AddFlags(fs)
	o.addLLMFlags(fs, "embedding", o.Embedding)
	o.addLLMFlags(fs, "chat", o.Chat)
	o.addRAGFlags(fs)
	o.addCacheFlags(fs)
}

func (o *Options) addLLMFlags(fs *pflag.FlagSet, prefix string, opts *LLMProviderOptions) {
	fs.StringVar(&opts.Provider, prefix+".provider", opts.Provider, "LLM provider (ollama, openai)")
	fs.StringVar(&opts.BaseURL, prefix+".base-url", opts.BaseURL, "LLM API base URL")
	fs.StringVar(&opts.APIKey, prefix+".api-key", opts.APIKey, "LLM API key (for OpenAI)")
	fs.StringVar(&opts.Model, prefix+".model", opts.Model, "LLM model name")
	fs.DurationVar(&opts.Timeout, prefix+".timeout", opts.Timeout, "LLM request timeout")
	fs.IntVar(&opts.MaxRetries, prefix+".max-retries", opts.MaxRetries, "LLM max retries")
	fs.StringVar(&opts.Organization, prefix+".organization", opts.Organization, "LLM organization ID (OpenAI)")
}

func (o *Options) addRAGFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.RAG.ChunkSize, "rag.chunk-size", o.RAG.ChunkSize, "Chunk window size in characters")
	fs.IntVar(&o.RAG.ChunkOverlap, "rag.chunk-overlap", o.RAG.ChunkOverlap, "Overlap between adjacent chunks")
	fs.IntVar(&o.RAG.TopK, "rag.top-k", o.RAG.TopK, "Default number of chunks to retrieve")
	fs.Float64Var(&o.RAG.SimilarityThreshold, "rag.similarity-threshold", o.RAG.SimilarityThreshold, "Default relevance cutoff in [0, 1]")
	fs.IntVar(&o.RAG.MaxPromptLength, "rag.max-prompt-length", o.RAG.MaxPromptLength, "Prompt budget in characters")
	fs.Float64Var(&o.RAG.Temperature, "rag.temperature", o.RAG.Temperature, "Generation temperature")
	fs.IntVar(&o.RAG.MaxTokens, "rag.max-tokens", o.RAG.MaxTokens, "Maximum generated tokens")
	fs.StringVar(&o.RAG.SystemPrompt, "rag.system-prompt", o.RAG.SystemPrompt, "System prompt for the chat provider")
	fs.StringVar(&o.RAG.StoreBackend, "rag.store-backend", o.RAG.StoreBackend, "Vector index backend (milvus, memory)")
	fs.StringVar(&o.RAG.Collection, "rag.collection", o.RAG.Collection, "Vector collection name")
	fs.IntVar(&o.RAG.EmbeddingDim, "rag.embedding-dim", o.RAG.EmbeddingDim, "Embedding vector dimension")
	fs.StringVar(&o.RAG.UploadDir, "rag.upload-dir", o.RAG.UploadDir, "Directory for staging uploaded files")
	fs.StringSliceVar(&o.RAG.AllowedExtensions, "rag.allowed-extensions", o.RAG.AllowedExtensions, "File extensions accepted for upload")
}

func (o *Options) addCacheFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Cache.QueryEnabled, "cache.query-enabled", o.Cache.QueryEnabled, "Enable query result cache")
	fs.DurationVar(&o.Cache.QueryTTL, "cache.query-ttl", o.Cache.QueryTTL, "Query cache TTL")
	fs.BoolVar(&o.Cache.EmbeddingEnabled, "cache.embedding-enabled", o.Cache.EmbeddingEnabled, "Enable embedding vector cache")
	fs.DurationVar(&o.Cache.EmbeddingTTL, "cache.embedding-ttl", o.Cache.EmbeddingTTL, "Embedding cache TTL")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if errs := o.HTTP.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if o.RAG.StoreBackend == StoreBackendMilvus {
		if errs := o.Milvus.Validate(); len(errs) > 0 {
			return errs[0]
		}
	}
	if err := o.validateLLMProvider(o.Embedding, "embedding"); err != nil {
		return err
	}
	if err := o.validateLLMProvider(o.Chat, "chat"); err != nil {
		return err
	}

	if o.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk-size must be positive")
	}
	if o.RAG.ChunkOverlap < 0 || o.RAG.ChunkOverlap >= o.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size)")
	}
	if o.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top-k must be positive")
	}
	if o.RAG.SimilarityThreshold < 0 || o.RAG.SimilarityThreshold > 1 {
		return fmt.Errorf("rag.similarity-threshold must be in [0, 1]")
	}
	if o.RAG.MaxPromptLength <= 0 {
		return fmt.Errorf("rag.max-prompt-length must be positive")
	}
	if o.RAG.EmbeddingDim <= 0 {
		return fmt.Errorf("rag.embedding-dim must be positive")
	}
	switch o.RAG.StoreBackend {
	case StoreBackendMilvus, StoreBackendMemory:
	default:
		return fmt.Errorf("rag.store-backend must be one of: milvus, memory")
	}
	if len(o.RAG.AllowedExtensions) == 0 {
		return fmt.Errorf("rag.allowed-extensions must not be empty")
	}
	for _, ext := range o.RAG.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("rag.allowed-extensions entries must start with a dot, got %q", ext)
		}
	}

	if o.Cache.QueryEnabled || o.Cache.EmbeddingEnabled {
		if err := o.Cache.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Options) validateLLMProvider(opts *LLMProviderOptions, prefix string) error {
	if opts.Provider == "" {
		return fmt.Errorf("%s.provider is required", prefix)
	}
	if opts.BaseURL == "" {
		return fmt.Errorf("%s.base-url is required", prefix)
	}
	if opts.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	// OpenAI 供应商必须提供 API key
	if opts.Provider == "openai" && opts.APIKey == "" {
		return fmt.Errorf("%s.api-key is required for openai provider", prefix)
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	return o.HTTP.Complete()
}
