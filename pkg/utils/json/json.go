// Package json 封装 JSON 编解码。amd64/arm64 上使用 sonic，其余平台回退到 encoding/json。
package json

import (
	stdjson "encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
)

// Encoder JSON 编码器。
type Encoder interface {
	Encode(v any) error
}

// Decoder JSON 解码器。
type Decoder interface {
	Decode(v any) error
}

var (
	// Marshal 将 v 编码为 JSON。
	Marshal func(v any) ([]byte, error)
	// MarshalIndent 带缩进编码，用于命令行输出。
	MarshalIndent func(v any, prefix, indent string) ([]byte, error)
	// Unmarshal 将 JSON 解码到 v。
	Unmarshal func(data []byte, v any) error
	// NewEncoder 创建写入 w 的编码器。
	NewEncoder func(w io.Writer) Encoder
	// NewDecoder 创建读取 r 的解码器。
	NewDecoder func(r io.Reader) Decoder
)

func init() {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		// ConfigStd 与 encoding/json 输出一致（map 键排序），缓存值依赖稳定编码
		useSonic(sonic.ConfigStd)
		return
	}

	Marshal = stdjson.Marshal
	MarshalIndent = stdjson.MarshalIndent
	Unmarshal = stdjson.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return stdjson.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return stdjson.NewDecoder(r) }
}

func useSonic(api sonic.API) {
	Marshal = api.Marshal
	MarshalIndent = api.MarshalIndent
	Unmarshal = api.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return api.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return api.NewDecoder(r) }
}
