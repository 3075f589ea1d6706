// Package parser 提供多格式文档解析能力，将上传文件转换为纯文本。
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docuseek/docuseek/internal/pkg/textutil"
)

var (
	// ErrUnsupportedFormat 表示文件扩展名不在支持列表中。
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrParse 表示文件内容无法解析（损坏或格式不符）。
	ErrParse = errors.New("failed to parse document")
)

// Parser 按格式从原始字节中提取纯文本。
type Parser interface {
	Parse(data []byte, filename string) (string, error)
}

// Registry 维护扩展名到解析器的映射。
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry 创建带默认解析器的注册表。
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(".txt", &textParser{})
	r.Register(".md", &markdownParser{})
	r.Register(".pdf", &pdfParser{})
	r.Register(".docx", &docxParser{})
	r.Register(".pptx", &pptxParser{})
	return r
}

// NewRegistryWithExtensions 创建只启用指定扩展名的注册表。
// 每个扩展名都必须有内置解析器，否则返回错误。
func NewRegistryWithExtensions(exts []string) (*Registry, error) {
	full := NewRegistry()
	r := &Registry{parsers: make(map[string]Parser, len(exts))}
	for _, ext := range exts {
		key := strings.ToLower(ext)
		p, ok := full.parsers[key]
		if !ok {
			return nil, fmt.Errorf("%w: no parser for extension %q", ErrUnsupportedFormat, ext)
		}
		r.parsers[key] = p
	}
	return r, nil
}

// Register 注册指定扩展名的解析器，扩展名不区分大小写。
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// Supported 判断扩展名是否有对应的解析器。
func (r *Registry) Supported(ext string) bool {
	_, ok := r.parsers[strings.ToLower(ext)]
	return ok
}

// Extensions 返回所有支持的扩展名，按字典序排列。
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse 根据文件名选择解析器并返回规范化后的纯文本。
func (r *Registry) Parse(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	p, ok := r.parsers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	text, err := p.Parse(data, filename)
	if err != nil {
		return "", err
	}

	return textutil.CleanText(text), nil
}
