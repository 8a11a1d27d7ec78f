package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorax/gorax/internal/workflow"
)

// HTTPConfig is the node.config shape the http strategy requires.
type HTTPConfig struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            json.RawMessage   `json:"body,omitempty"`
	Timeout         int               `json:"timeout,omitempty"`
	Auth            *HTTPAuth         `json:"auth,omitempty"`
	FollowRedirects bool              `json:"followRedirects,omitempty"`
}

// HTTPAuth describes how to authenticate the outbound request.
type HTTPAuth struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Header   string `json:"header,omitempty"`
}

// HTTPResult is the http strategy's output shape.
type HTTPResult struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       interface{}       `json:"body"`
}

var validHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// HTTPStrategy performs a request built from {url, method, headers,
// body} with the node's resolved input merged into the template.
// Success is 200 <= status < 300; network errors are retryable.
type HTTPStrategy struct {
	deps Dependencies
}

// NewHTTPStrategy constructs the http strategy.
func NewHTTPStrategy(deps Dependencies) *HTTPStrategy {
	return &HTTPStrategy{deps: deps}
}

func (s *HTTPStrategy) decodeConfig(node workflow.Node) (HTTPConfig, error) {
	raw, err := json.Marshal(node.Config)
	if err != nil {
		return HTTPConfig{}, err
	}
	var cfg HTTPConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return HTTPConfig{}, err
	}
	return cfg, nil
}

// Validate requires a non-empty URL and a recognized method when given.
func (s *HTTPStrategy) Validate(node workflow.Node) ValidationReport {
	report := ValidateBase(node)
	cfg, err := s.decodeConfig(node)
	if err != nil {
		report.Errors = append(report.Errors, FieldError{Field: "config", Message: "invalid http config: " + err.Error()})
		return report
	}
	if cfg.URL == "" {
		report.Errors = append(report.Errors, FieldError{Field: "url", Message: "url is required"})
	}
	if cfg.Method != "" && !validHTTPMethods[strings.ToUpper(cfg.Method)] {
		report.Errors = append(report.Errors, FieldError{Field: "method", Message: "unsupported HTTP method: " + cfg.Method})
	}
	return report
}

// Execute issues the HTTP request and classifies the outcome.
func (s *HTTPStrategy) Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error) {
	cfg, err := s.decodeConfig(node)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}

	inputMap, _ := input.(map[string]interface{})
	if inputMap == nil {
		inputMap = map[string]interface{}{"input": input}
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = "GET"
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := *s.deps.HTTPClient
	client.Timeout = timeout
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects && len(via) > 0 {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		return nil
	}

	url := interpolateString(cfg.URL, inputMap)
	if url == "" {
		return ExecutionResult{Success: false, Error: "url resolved to empty string"}, nil
	}
	if s.deps.URLValidator != nil {
		if err := s.deps.URLValidator.ValidateURL(url); err != nil {
			return ExecutionResult{Success: false, Error: "blocked by SSRF protection: " + err.Error()}, nil
		}
	}

	var bodyReader io.Reader
	if len(cfg.Body) > 0 {
		interpolated := interpolateJSON(jsonRawToAny(cfg.Body), inputMap)
		b, err := json.Marshal(interpolated)
		if err != nil {
			return ExecutionResult{Success: false, Error: err.Error()}, nil
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, interpolateString(v, inputMap))
	}
	if err := applyAuth(req, cfg.Auth, inputMap); err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}

	resp, err := client.Do(req)
	if err != nil {
		// Network errors are retryable.
		return ExecutionResult{Success: false, Error: err.Error(), Retryable: true}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error(), Retryable: true}, nil
	}

	var parsed interface{}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = string(respBody)
		}
	} else {
		parsed = string(respBody)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	result := HTTPResult{StatusCode: resp.StatusCode, Headers: headers, Body: parsed}
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		return ExecutionResult{
			Success:   false,
			Output:    result,
			Error:     fmt.Sprintf("http status %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == 408 || resp.StatusCode == 429,
		}, nil
	}
	return ExecutionResult{Success: true, Output: result}, nil
}

// Cleanup is a no-op: the http strategy holds no resources past Execute.
func (s *HTTPStrategy) Cleanup(ctx context.Context, view RunView, node workflow.Node) {}

func applyAuth(req *http.Request, auth *HTTPAuth, input map[string]interface{}) error {
	if auth == nil {
		return nil
	}
	switch strings.ToLower(auth.Type) {
	case "basic":
		req.SetBasicAuth(interpolateString(auth.Username, input), interpolateString(auth.Password, input))
	case "bearer":
		token := interpolateString(auth.Token, input)
		if token == "" {
			return fmt.Errorf("bearer token is required")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "api_key":
		key := interpolateString(auth.APIKey, input)
		if key == "" {
			return fmt.Errorf("api key is required")
		}
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, key)
	case "":
		return nil
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}
	return nil
}

func jsonRawToAny(raw json.RawMessage) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
