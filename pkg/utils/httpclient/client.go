// Package httpclient 封装出站 HTTP 调用：注入 W3C Trace Context，按 JSON 编解码，
// 非 2xx 响应转换为 *StatusError。重试与熔断由调用方的 resilience.Client 负责。
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// maxErrorBody 错误响应体最多保留的字节数。
const maxErrorBody = 4 << 10

// StatusError 下游返回的非 2xx 响应。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// StatusCode 返回 HTTP 状态码，供错误分类使用。
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Client 出站 HTTP 客户端。
type Client struct {
	httpClient *http.Client
}

// NewClient 创建客户端。timeout 为底层连接级超时，0 表示只依赖请求上下文。
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do 执行请求。非 2xx 响应会读取并关闭响应体，返回 *StatusError。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.injectTraceContext(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return resp, nil
}

// GetJSON 发送 GET 请求并把响应解码到 out。
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.DoJSON(req, out)
}

// PostJSON 将 in 编码为请求体发送 POST 请求，并把响应解码到 out。
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.DoJSON(req, out)
}

// DoJSON 执行已构造好的请求并把响应解码到 out，out 为 nil 时丢弃响应体。
// 需要自定义请求头（如鉴权）的调用方使用它。
func (c *Client) DoJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// injectTraceContext 将当前 Span 的追踪信息写入请求头，没有传播器时跳过。
func (c *Client) injectTraceContext(req *http.Request) {
	if req == nil {
		return
	}

	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return
	}
	propagator.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
}
