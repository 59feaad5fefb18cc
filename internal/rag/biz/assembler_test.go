package biz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

func sized(lengths ...int) []store.Fragment {
	out := make([]store.Fragment, len(lengths))
	for i, n := range lengths {
		out[i] = fragment(string(rune('a'+i)), 1-float64(i)/10, strings.Repeat("x", n))
	}
	return out
}

func TestContextAssembler_Budget(t *testing.T) {
	tests := []struct {
		name    string
		lengths []int
		budget  int
		wantIDs []string
		wantLow bool
	}{
		{name: "budget 900", lengths: []int{500, 400, 300}, budget: 900, wantIDs: []string{"a", "b"}},
		{name: "budget 700", lengths: []int{500, 400, 300}, budget: 700, wantIDs: []string{"a"}},
		{name: "stops at first misfit", lengths: []int{500, 600, 100}, budget: 700, wantIDs: []string{"a"}},
		{name: "everything fits", lengths: []int{10, 20, 30}, budget: 60, wantIDs: []string{"a", "b", "c"}},
		{name: "first too large", lengths: []int{800}, budget: 700, wantLow: true},
		{name: "no input", budget: 700, wantLow: true},
		{name: "zero budget", lengths: []int{1}, budget: 0, wantLow: true},
	}

	var a ContextAssembler
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := a.Assemble(sized(tt.lengths...), tt.budget)

			ids := make([]string, 0, len(c.Fragments))
			total := 0
			for _, f := range c.Fragments {
				ids = append(ids, f.ID)
				total += len(f.Text)
			}
			if tt.wantIDs == nil {
				assert.Empty(t, ids)
			} else {
				assert.Equal(t, tt.wantIDs, ids)
			}
			assert.Equal(t, total, c.TotalLength)
			assert.LessOrEqual(t, c.TotalLength, tt.budget)
			assert.Equal(t, tt.wantLow, c.LowConfidence)
		})
	}
}

func TestContextAssembler_CountsRunes(t *testing.T) {
	frags := []store.Fragment{
		fragment("a", 0.9, strings.Repeat("文", 300)),
		fragment("b", 0.8, strings.Repeat("档", 300)),
	}

	c := ContextAssembler{}.Assemble(frags, 600)
	assert.Len(t, c.Fragments, 2)
	assert.Equal(t, 600, c.TotalLength)
	assert.Equal(t, strings.Repeat("文", 300), c.Fragments[0].Text)
}

func TestContextAssembler_Deterministic(t *testing.T) {
	frags := sized(100, 200, 300, 400)
	first := ContextAssembler{}.Assemble(frags, 650)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ContextAssembler{}.Assemble(frags, 650))
	}
}
