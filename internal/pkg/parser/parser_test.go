package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySupported(t *testing.T) {
	r := NewRegistry()

	for _, ext := range []string{".txt", ".md", ".pdf", ".docx", ".pptx"} {
		assert.True(t, r.Supported(ext), "应支持 %s", ext)
	}
	assert.True(t, r.Supported(".PDF"), "扩展名不应区分大小写")
	assert.False(t, r.Supported(".exe"))
}

func TestNewRegistryWithExtensions(t *testing.T) {
	r, err := NewRegistryWithExtensions([]string{".txt", ".PDF"})
	require.NoError(t, err)

	assert.True(t, r.Supported(".txt"))
	assert.True(t, r.Supported(".pdf"), "扩展名不应区分大小写")
	assert.False(t, r.Supported(".md"), "未列出的格式不应启用")
	assert.Equal(t, []string{".pdf", ".txt"}, r.Extensions())

	_, err = r.Parse([]byte("data"), "readme.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestNewRegistryWithExtensionsUnknown(t *testing.T) {
	_, err := NewRegistryWithExtensions([]string{".txt", ".exe"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestRegistryExtensionsSorted(t *testing.T) {
	r := NewRegistry()

	want := []string{".docx", ".md", ".pdf", ".pptx", ".txt"}
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, r.Extensions())
	}
}

func TestRegistryParseUnsupported(t *testing.T) {
	r := NewRegistry()

	_, err := r.Parse([]byte("data"), "binary.exe")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestParseText(t *testing.T) {
	r := NewRegistry()

	text, err := r.Parse([]byte("hello   world\r\nsecond line"), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line", text)
}

func TestParseTextInvalidEncoding(t *testing.T) {
	r := NewRegistry()

	_, err := r.Parse([]byte{0xff, 0xfe, 0xfd}, "bad.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestParseMarkdown(t *testing.T) {
	r := NewRegistry()

	md := "# Title\n\nSome **bold** text with a [link](https://example.com).\n\n```go\ncode block\n```\n"
	text, err := r.Parse([]byte(md), "readme.md")
	require.NoError(t, err)

	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "bold")
	assert.Contains(t, text, "link")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "code block")
	assert.NotContains(t, text, "https://example.com")
}

func TestParsePDFCorrupt(t *testing.T) {
	r := NewRegistry()

	_, err := r.Parse([]byte("not a pdf"), "broken.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseDocx(t *testing.T) {
	r := NewRegistry()

	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>
  </w:body>
</w:document>`
	data := buildZip(t, map[string]string{"word/document.xml": doc})

	text, err := r.Parse(data, "report.docx")
	require.NoError(t, err)
	assert.Contains(t, text, "First paragraph")
	assert.Contains(t, text, "Second paragraph")

	// 段落之间应有换行
	first := strings.Index(text, "First paragraph")
	second := strings.Index(text, "Second paragraph")
	require.True(t, first >= 0 && second > first)
	assert.Contains(t, text[first:second], "\n")
}

func TestParseDocxMissingDocument(t *testing.T) {
	r := NewRegistry()

	data := buildZip(t, map[string]string{"other.xml": "<x/>"})
	_, err := r.Parse(data, "empty.docx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestParsePptx(t *testing.T) {
	r := NewRegistry()

	slide := func(text string) string {
		return `<?xml version="1.0"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld><p:spTree><p:sp><p:txBody>
    <a:p><a:r><a:t>` + text + `</a:t></a:r></a:p>
  </p:txBody></p:sp></p:spTree></p:cSld>
</p:sld>`
	}
	data := buildZip(t, map[string]string{
		"ppt/slides/slide2.xml":  slide("second slide"),
		"ppt/slides/slide1.xml":  slide("first slide"),
		"ppt/slides/slide10.xml": slide("tenth slide"),
	})

	text, err := r.Parse(data, "deck.pptx")
	require.NoError(t, err)

	// 幻灯片按编号排序，slide10 在 slide2 之后
	i1 := strings.Index(text, "first slide")
	i2 := strings.Index(text, "second slide")
	i10 := strings.Index(text, "tenth slide")
	require.True(t, i1 >= 0 && i2 >= 0 && i10 >= 0)
	assert.True(t, i1 < i2 && i2 < i10)
	assert.Contains(t, text, "--- Slide 1 ---")
}

func TestParsePptxNoSlides(t *testing.T) {
	r := NewRegistry()

	data := buildZip(t, map[string]string{"ppt/presentation.xml": "<x/>"})
	_, err := r.Parse(data, "empty.pptx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}
