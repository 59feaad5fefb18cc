package redis

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// loggingAdapter 将 go-redis 内部日志转到统一日志。
type loggingAdapter struct{}

func (loggingAdapter) Printf(_ context.Context, format string, v ...interface{}) {
	logger.Debugw("redis client", "message", fmt.Sprintf(format, v...))
}

func init() {
	goredis.SetLogger(loggingAdapter{})
}
