package app

import (
	"github.com/spf13/pflag"
)

// CliOptions 命令行配置。Flags 注册的 flag 对所有子命令生效。
type CliOptions interface {
	// Flags 返回按配置段分组的 flag。
	Flags() NamedFlagSets
	// Complete 校验前补全默认值。
	Complete() error
	// Validate 校验配置。
	Validate() error
}

// NamedFlagSets 按配置段分组的 flag，Order 为注册顺序。
type NamedFlagSets struct {
	Order    []string
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet 返回名为 name 的 flag 集合，不存在时创建。
func (n *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if n.FlagSets == nil {
		n.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := n.FlagSets[name]; !ok {
		n.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		n.Order = append(n.Order, name)
	}
	return n.FlagSets[name]
}
