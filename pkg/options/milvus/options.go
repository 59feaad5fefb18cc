// Package milvus 提供 Milvus 连接与检索配置。
package milvus

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 支持的相似度度量。
const (
	MetricCosine = "COSINE"
	MetricIP     = "IP"
	MetricL2     = "L2"
)

// Options Milvus 配置。
type Options struct {
	// Address Milvus 地址（host:port）。
	Address string `json:"address" mapstructure:"address"`
	// Database 数据库名。
	Database string `json:"database" mapstructure:"database"`
	// Username 用户名。
	Username string `json:"username" mapstructure:"username"`
	// Password 密码。
	Password string `json:"-" mapstructure:"password"`
	// Timeout 建立连接的超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// MetricType 集合索引使用的度量，决定分数如何换算为相似度。
	MetricType string `json:"metric-type" mapstructure:"metric-type"`
	// NProbe IVF 索引检索时探查的聚类数。
	NProbe int `json:"nprobe" mapstructure:"nprobe"`
}

// NewOptions 返回默认配置。
func NewOptions() *Options {
	return &Options{
		Address:    "localhost:19530",
		Database:   "default",
		Timeout:    10 * time.Second,
		MetricType: MetricCosine,
		NProbe:     16,
	}
}

// AddFlags 注册 flag。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "milvus."
	fs.StringVar(&o.Address, p+"address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Milvus username.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Milvus connect timeout.")
	fs.StringVar(&o.MetricType, p+"metric-type", o.MetricType, "Index metric type (COSINE, IP, L2).")
	fs.IntVar(&o.NProbe, p+"nprobe", o.NProbe, "Number of clusters probed per search.")
}

// Complete 规范化度量名称。
func (o *Options) Complete() error {
	o.MetricType = strings.ToUpper(strings.TrimSpace(o.MetricType))
	return nil
}

// Validate 校验配置。
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus timeout must be positive"))
	}
	switch strings.ToUpper(o.MetricType) {
	case MetricCosine, MetricIP, MetricL2:
	default:
		errs = append(errs, fmt.Errorf("milvus metric-type %q is not supported", o.MetricType))
	}
	if o.NProbe <= 0 {
		errs = append(errs, fmt.Errorf("milvus nprobe must be positive"))
	}
	return errs
}
