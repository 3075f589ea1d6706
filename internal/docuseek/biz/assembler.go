package biz

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docuseek/docuseek/internal/model"
)

const (
	contextPreamble = "Answer the question based on the provided context. " +
		"If the context does not contain the answer, say so.\n\nContext:\n"

	noContextPreamble = "No relevant context was found in the knowledge base for this question. " +
		"Answer from general knowledge and mention that the knowledge base does not cover it.\n\n"
)

// Assembler 将检索结果拼装为生成提示词，并执行长度预算。
//
// 预算按 Unicode 字符计数。超出预算时按整块粒度丢弃排名最低的结果，
// 从不截断分块内部文本。
type Assembler struct{}

// NewAssembler 创建提示词组装器。
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble 生成提示词并返回实际纳入的检索结果（保持排名顺序）。
// 若丢弃全部结果后仍超出预算，返回 ErrPromptTooLarge。
func (a *Assembler) Assemble(question string, results []*model.RetrievalResult, maxLen int) (string, []*model.RetrievalResult, error) {
	included := results
	for {
		prompt := a.render(question, included)
		if utf8.RuneCountInString(prompt) <= maxLen {
			return prompt, included, nil
		}
		if len(included) == 0 {
			return "", nil, fmt.Errorf("%w: 问题长度超出预算 %d", ErrPromptTooLarge, maxLen)
		}
		// 丢弃排名最低的整块
		included = included[:len(included)-1]
	}
}

// AssembleNoContext 生成无相关上下文时的降级提示词。
func (a *Assembler) AssembleNoContext(question string, maxLen int) (string, error) {
	prompt := noContextPreamble + "Question: " + question + "\n\nAnswer:"
	if utf8.RuneCountInString(prompt) > maxLen {
		return "", fmt.Errorf("%w: 问题长度超出预算 %d", ErrPromptTooLarge, maxLen)
	}
	return prompt, nil
}

func (a *Assembler) render(question string, results []*model.RetrievalResult) string {
	if len(results) == 0 {
		return noContextPreamble + "Question: " + question + "\n\nAnswer:"
	}

	var sb strings.Builder
	sb.WriteString(contextPreamble)
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("\n[%d] From %s:\n%s\n", i+1, r.DocumentName, r.Text))
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
