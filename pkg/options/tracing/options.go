// Package tracing 提供 OpenTelemetry 链路追踪配置。
package tracing

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// SamplerType 采样策略。
type SamplerType string

const (
	SamplerAlwaysOn    SamplerType = "always_on"
	SamplerAlwaysOff   SamplerType = "always_off"
	SamplerRatio       SamplerType = "ratio"
	SamplerParentBased SamplerType = "parent_based"
)

// ExporterType 导出方式。
type ExporterType string

const (
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	ExporterOTLPHTTP ExporterType = "otlp_http"
	ExporterStdout   ExporterType = "stdout"
	ExporterNoop     ExporterType = "noop"
)

// Options 链路追踪配置。
type Options struct {
	Enabled        bool              `json:"enabled" mapstructure:"enabled"`
	ServiceName    string            `json:"service-name" mapstructure:"service-name"`
	ServiceVersion string            `json:"service-version" mapstructure:"service-version"`
	Environment    string            `json:"environment" mapstructure:"environment"`
	ExporterType   ExporterType      `json:"exporter-type" mapstructure:"exporter-type"`
	Endpoint       string            `json:"endpoint" mapstructure:"endpoint"`
	Insecure       bool              `json:"insecure" mapstructure:"insecure"`
	Headers        map[string]string `json:"headers" mapstructure:"headers"`
	SamplerType    SamplerType       `json:"sampler-type" mapstructure:"sampler-type"`
	SamplerRatio   float64           `json:"sampler-ratio" mapstructure:"sampler-ratio"`
	BatchTimeout   time.Duration     `json:"batch-timeout" mapstructure:"batch-timeout"`
	ExportTimeout  time.Duration     `json:"export-timeout" mapstructure:"export-timeout"`
}

// NewOptions 返回默认配置，默认关闭。
func NewOptions() *Options {
	return &Options{
		ServiceName:   "sentinel-rag",
		Environment:   "development",
		ExporterType:  ExporterOTLPGRPC,
		Endpoint:      "localhost:4317",
		Insecure:      true,
		Headers:       map[string]string{},
		SamplerType:   SamplerParentBased,
		SamplerRatio:  1.0,
		BatchTimeout:  5 * time.Second,
		ExportTimeout: 30 * time.Second,
	}
}

// AddFlags 注册 flag。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "tracing."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable OpenTelemetry tracing.")
	fs.StringVar(&o.ServiceName, p+"service-name", o.ServiceName, "Service name reported in spans.")
	fs.StringVar(&o.Environment, p+"environment", o.Environment, "Deployment environment.")
	fs.StringVar((*string)(&o.ExporterType), p+"exporter-type", string(o.ExporterType), "Exporter (otlp_grpc, otlp_http, stdout, noop).")
	fs.StringVar(&o.Endpoint, p+"endpoint", o.Endpoint, "OTLP endpoint.")
	fs.BoolVar(&o.Insecure, p+"insecure", o.Insecure, "Disable TLS for OTLP.")
	fs.StringVar((*string)(&o.SamplerType), p+"sampler-type", string(o.SamplerType), "Sampler (always_on, always_off, ratio, parent_based).")
	fs.Float64Var(&o.SamplerRatio, p+"sampler-ratio", o.SamplerRatio, "Sampling ratio between 0 and 1.")
}

// Complete 补全默认值。
func (o *Options) Complete() error {
	if o.Headers == nil {
		o.Headers = map[string]string{}
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 5 * time.Second
	}
	if o.ExportTimeout <= 0 {
		o.ExportTimeout = 30 * time.Second
	}
	return nil
}

// Validate 校验配置，关闭时不校验。
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.ServiceName == "" {
		errs = append(errs, fmt.Errorf("tracing.service-name is required"))
	}
	switch o.ExporterType {
	case ExporterOTLPGRPC, ExporterOTLPHTTP:
		if o.Endpoint == "" {
			errs = append(errs, fmt.Errorf("tracing.endpoint is required for %s", o.ExporterType))
		}
	case ExporterStdout, ExporterNoop:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter-type %q is invalid", o.ExporterType))
	}
	switch o.SamplerType {
	case SamplerAlwaysOn, SamplerAlwaysOff, SamplerRatio, SamplerParentBased:
	default:
		errs = append(errs, fmt.Errorf("tracing.sampler-type %q is invalid", o.SamplerType))
	}
	if o.SamplerRatio < 0 || o.SamplerRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampler-ratio must be in [0,1], got %g", o.SamplerRatio))
	}
	return errs
}
