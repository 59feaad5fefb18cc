// Package logger 提供日志配置，封装 kart-io/logger 的 LogOption。
package logger

import (
	"fmt"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"github.com/kart-io/logger/option"
	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 日志配置。
type Options struct {
	*option.LogOption `mapstructure:",squash"`
}

// NewOptions 返回默认配置。命令行输出走 stdout，日志默认写 stderr。
func NewOptions() *Options {
	opt := option.DefaultLogOption()
	opt.OutputPaths = []string{"stderr"}
	return &Options{LogOption: opt}
}

// AddFlags 注册 flag。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "log."
	fs.StringVar(&o.Engine, p+"engine", o.Engine, "Logging engine (zap|slog).")
	fs.StringVar(&o.Level, p+"level", o.Level, "Log level (DEBUG|INFO|WARN|ERROR|FATAL).")
	fs.StringVar(&o.Format, p+"format", o.Format, "Log format (json|console).")
	fs.StringSliceVar(&o.OutputPaths, p+"output-paths", o.OutputPaths, "Output paths for logs.")
	fs.BoolVar(&o.Development, p+"development", o.Development, "Enable development mode.")
	fs.BoolVar(&o.DisableCaller, p+"disable-caller", o.DisableCaller, "Disable caller detection.")
	fs.BoolVar(&o.DisableStacktrace, p+"disable-stacktrace", o.DisableStacktrace, "Disable stacktrace capture.")
}

// Complete 补全默认值。
func (o *Options) Complete() error {
	if len(o.OutputPaths) == 0 {
		o.OutputPaths = []string{"stderr"}
	}
	return nil
}

// Validate 校验配置。
func (o *Options) Validate() []error {
	if o == nil || o.LogOption == nil {
		return nil
	}
	if err := o.LogOption.Validate(); err != nil {
		return []error{fmt.Errorf("log: %w", err)}
	}
	return nil
}

// CreateLogger 按配置创建日志实例。
func (o *Options) CreateLogger() (core.Logger, error) {
	return logger.New(o.LogOption)
}

// Init 创建日志实例并设置为全局日志，每条日志附带服务名和版本。
func (o *Options) Init(service, version string) error {
	o.AddInitialField("service.name", service)
	o.AddInitialField("service.version", version)

	log, err := o.CreateLogger()
	if err != nil {
		return err
	}
	logger.SetGlobal(log)
	return nil
}
