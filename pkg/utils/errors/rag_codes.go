package errors

// 问答管线错误码，服务代码 20。
// 只有以下三类错误会暴露给调用方，后端错误在管线内部被重试或降级。
var (
	// ErrInvalidInput 问题或参数不合法。
	ErrInvalidInput = NewRequestErr(ServiceRAG, 1, "Invalid question or parameters", "问题或参数无效")

	// ErrDeadlineExceeded 整体截止时间已过。
	ErrDeadlineExceeded = NewTimeoutErr(ServiceRAG, 1, "Query deadline exceeded", "查询超过截止时间")

	// ErrOverloaded 生成队列已满。
	ErrOverloaded = NewRateLimitErr(ServiceRAG, 1, "Generation capacity exhausted", "生成服务繁忙，请稍后重试")

	// ErrServiceNotReady 服务尚未完成初始化。
	ErrServiceNotReady = NewInternalErr(ServiceRAG, 1, "Service not initialized", "服务未初始化")

	// ErrInvalidConfig 配置无效。
	ErrInvalidConfig = NewConfigErr(ServiceRAG, 1, "Invalid configuration", "配置无效")
)
