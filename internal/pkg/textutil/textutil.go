// Package textutil 提供检索管道使用的文本与向量工具函数。
package textutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，1 表示方向完全相同。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance 计算两个向量的余弦距离（1 - 余弦相似度）。
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// DistanceToSimilarity 将余弦距离转换为 [0, 1] 范围的相似度分数。
// 阈值比较统一使用该映射：similarity = 1 - distance，越界值截断。
func DistanceToSimilarity(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// HashString 计算字符串的 MD5 哈希值。
func HashString(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])
}

// ChunkID 根据文档 ID 和分块序号生成确定性的分块 ID。
// 同一文档重复分块得到相同的 ID，使索引写入具备覆盖语义。
func ChunkID(documentID string, sequenceIndex int) string {
	return HashString(fmt.Sprintf("%s_%d", documentID, sequenceIndex))
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

var (
	spaceRegex   = regexp.MustCompile(`[ \t]+`)
	newlineRegex = regexp.MustCompile(`\n{2,}`)
)

// CleanText 规范化解析器产出的文本：折叠连续空白、压缩空行并去除首尾空白。
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRegex.ReplaceAllString(text, " ")
	text = newlineRegex.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
