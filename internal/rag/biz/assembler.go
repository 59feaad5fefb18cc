package biz

import (
	"unicode/utf8"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

// ContextAssembler 在长度预算内按顺序组装上下文。
type ContextAssembler struct{}

// Assemble 依次加入片段，遇到第一个放不下的片段即停止，片段正文不会被截断。
// 长度按字符（rune）计算。没有片段入选时标记为低置信度。
func (ContextAssembler) Assemble(fragments []store.Fragment, maxLength int) Context {
	c := Context{}
	for _, f := range fragments {
		n := utf8.RuneCountInString(f.Text)
		if c.TotalLength+n > maxLength {
			break
		}
		c.Fragments = append(c.Fragments, f)
		c.TotalLength += n
	}
	c.LowConfidence = len(c.Fragments) == 0
	return c
}
