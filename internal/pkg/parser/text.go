package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// textParser 处理纯文本文件，仅校验编码。
type textParser struct{}

func (p *textParser) Parse(data []byte, filename string) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrParse
	}
	return string(data), nil
}

var (
	mdHeadingRegex = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeRegex    = regexp.MustCompile("(?s)```.*?```")
	mdInlineRegex  = regexp.MustCompile("`([^`]*)`")
	mdLinkRegex    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdImageRegex   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdEmphRegex    = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
)

// markdownParser 剥离 Markdown 标记，保留正文内容。
type markdownParser struct{}

func (p *markdownParser) Parse(data []byte, filename string) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrParse
	}
	text := string(data)

	text = mdCodeRegex.ReplaceAllString(text, "")
	text = mdImageRegex.ReplaceAllString(text, "")
	text = mdLinkRegex.ReplaceAllString(text, "$1")
	text = mdInlineRegex.ReplaceAllString(text, "$1")
	text = mdEmphRegex.ReplaceAllString(text, "$2")
	text = mdHeadingRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "> ", "")

	return text, nil
}
