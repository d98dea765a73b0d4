package executors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/flowrun-go/flow"
)

// HTTPRequest performs an HTTP call described by the node's parameters.
//
// Parameters:
//   - url: target URL (required; input["url"] is used as a fallback)
//   - method: "GET", "POST", "PUT", "DELETE" (default "GET")
//   - headers: map of header name to string value
//   - body: request body string (for POST/PUT)
//
// When the node carries a credential reference, the decrypted secret is
// sent as a bearer token. Requests run under the advisory default
// timeout from the execution context and are retried on 5xx responses
// and transport errors up to the advisory retry count, with the RETRY
// log category recording each attempt.
//
// Output:
//   - statusCode: HTTP status code
//   - headers: response headers
//   - body: response body as string
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest creates the HTTP executor. Timeouts come from the
// per-request context, not the client.
func NewHTTPRequest() *HTTPRequest {
	return &HTTPRequest{client: &http.Client{}}
}

// NodeType implements flow.Executor.
func (*HTTPRequest) NodeType() string { return "http_request" }

// Execute implements flow.Executor.
func (h *HTTPRequest) Execute(ctx context.Context, node flow.Node, input map[string]any, ec flow.ExecContext) (map[string]any, error) {
	urlStr, _ := node.Parameters["url"].(string)
	if urlStr == "" {
		urlStr, _ = input["url"].(string)
	}
	if urlStr == "" {
		return nil, fmt.Errorf("url parameter required")
	}

	method := "GET"
	if m, ok := node.Parameters["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	switch method {
	case "GET", "POST", "PUT", "DELETE":
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	bodyStr, _ := node.Parameters["body"].(string)

	var token string
	if node.CredentialID != "" {
		secret, err := ec.DecryptedCredential(node.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve credential: %w", err)
		}
		token = secret
	}

	attempts := ec.RetryAttempts()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			ec.Logger().Retry(ec.ExecutionID(), node.ID, attempt, lastErr)
			select {
			case <-time.After(ec.RetryDelay()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if ec.IsCancelled() {
			return nil, fmt.Errorf("request abandoned after cancellation")
		}

		out, retryable, err := h.do(ctx, node, method, urlStr, bodyStr, token, ec)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (h *HTTPRequest) do(ctx context.Context, node flow.Node, method, urlStr, bodyStr, token string, ec flow.ExecContext) (map[string]any, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ec.DefaultTimeout())
	defer cancel()

	var body io.Reader
	if bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, urlStr, body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	if headers, ok := node.Parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error: %s", resp.Status)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    respHeaders,
		"body":       string(respBody),
	}, false, nil
}

// Validate implements flow.Validator.
func (*HTTPRequest) Validate(settings map[string]any) flow.ValidationResult {
	var errs []string
	if u, _ := settings["url"].(string); u == "" {
		errs = append(errs, "url is required")
	}
	if m, ok := settings["method"].(string); ok && m != "" {
		switch strings.ToUpper(m) {
		case "GET", "POST", "PUT", "DELETE":
		default:
			errs = append(errs, "method must be GET, POST, PUT, or DELETE")
		}
	}
	return flow.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
