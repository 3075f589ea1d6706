package biz

import "errors"

// 业务层错误哨兵，调用方通过 errors.Is 判断失败类别。
var (
	// ErrInvalidConfig 配置或请求参数非法。
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable 向量化服务不可用。
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrGenerationUnavailable 生成服务不可用。
	ErrGenerationUnavailable = errors.New("generation provider unavailable")

	// ErrIngestFailed 文档索引失败，索引未发生任何变更。
	ErrIngestFailed = errors.New("document ingest failed")

	// ErrPromptTooLarge 问题本身超出提示词长度预算。
	ErrPromptTooLarge = errors.New("prompt exceeds length budget")
)
