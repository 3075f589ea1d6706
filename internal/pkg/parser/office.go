package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// docxParser 解析 Word 文档（OOXML），提取段落与表格文本。
type docxParser struct{}

func (p *docxParser) Parse(data []byte, filename string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrParse, filename, err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		text, err := extractXMLText(f, "t", "p")
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrParse, filename, err)
		}
		return text, nil
	}

	return "", fmt.Errorf("%w: %s: missing word/document.xml", ErrParse, filename)
}

var slideNameRegex = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// pptxParser 解析 PowerPoint 演示文稿，按幻灯片顺序提取文本。
type pptxParser struct{}

func (p *pptxParser) Parse(data []byte, filename string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrParse, filename, err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNameRegex.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("%w: %s: no slides found", ErrParse, filename)
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, s := range slides {
		text, err := extractXMLText(s.file, "t", "p")
		if err != nil {
			return "", fmt.Errorf("%w: %s: slide %d: %v", ErrParse, filename, s.num, err)
		}
		sb.WriteString(fmt.Sprintf("\n--- Slide %d ---\n", s.num))
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// extractXMLText 流式扫描 XML，收集 textTag 元素内的字符数据，
// 在每个 paraTag 元素结束时插入换行。
func extractXMLText(f *zip.File, textTag, paraTag string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var sb strings.Builder
	decoder := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textTag {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == textTag {
				inText = false
			}
			if t.Name.Local == paraTag {
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return sb.String(), nil
}
