package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(o *Options)
		wantErr int
	}{
		{name: "defaults", modify: func(*Options) {}},
		{name: "embedding cache off", modify: func(o *Options) { o.EmbeddingSize = 0 }},
		{name: "negative embedding size", modify: func(o *Options) { o.EmbeddingSize = -1 }, wantErr: 1},
		{name: "zero local size", modify: func(o *Options) { o.LocalSize = 0 }, wantErr: 1},
		{name: "shared without call timeout", modify: func(o *Options) { o.CallTimeout = 0 }, wantErr: 1},
		{name: "disabled skips checks", modify: func(o *Options) {
			o.Enabled = false
			o.LocalSize = 0
			o.EmbeddingSize = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.modify(o)
			assert.Len(t, o.Validate(), tt.wantErr)
		})
	}
}
