// Package options 定义各配置段的通用接口和辅助函数。
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join 用 "." 连接前缀，结果非空时追加结尾的 "."，用于构造 "redis.host" 之类的 flag 名。
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions 配置段需要实现的方法。
type IOptions interface {
	// Validate 校验配置，返回所有错误。
	Validate() []error

	// AddFlags 将配置项注册到 flagset。
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Completer 可选接口，用于在校验前补全默认值。
type Completer interface {
	Complete() error
}
