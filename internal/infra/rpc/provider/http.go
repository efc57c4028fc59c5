package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type rpcResponse struct {
	Result any `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPProvider implements Provider over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Execute dispatches op according to its dialect.
func (p *HTTPProvider) Execute(ctx context.Context, op Operation) (any, error) {
	if op.IsREST {
		return p.rest(ctx, op)
	}
	return p.call(ctx, op)
}

func (p *HTTPProvider) call(ctx context.Context, op Operation) (any, error) {
	params := op.Params
	if params == nil {
		params = []any{}
	}

	reqBody := map[string]any{
		"method": op.Name,
		"params": params,
		"id":     1,
	}
	if op.JSONRPCVersion == "1.0" {
		reqBody["jsonrpc"] = "1.0"
	} else {
		reqBody["jsonrpc"] = "2.0"
	}

	body, err := p.post(ctx, p.endpoint, reqBody)
	if err != nil {
		// bitcoind answers RPC errors with a 500 and a JSON-RPC body.
		var statusErr *HTTPStatusError
		if !errors.As(err, &statusErr) {
			return nil, err
		}
		var errResp rpcResponse
		if decode([]byte(statusErr.Body), &errResp) != nil || errResp.Error == nil {
			return nil, err
		}
		return nil, &RPCError{Code: errResp.Error.Code, Message: errResp.Error.Message}
	}

	var rpcResp rpcResponse
	if err := decode(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		if IsThrottleMessage(rpcResp.Error.Message) {
			return nil, fmt.Errorf("%w: %s", ErrThrottled, rpcResp.Error.Message)
		}
		return nil, &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	return rpcResp.Result, nil
}

func (p *HTTPProvider) rest(ctx context.Context, op Operation) (any, error) {
	url := p.endpoint + "/" + strings.TrimLeft(op.Name, "/")

	body, err := p.post(ctx, url, op.Params)
	if err != nil {
		return nil, err
	}

	var result any
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	if err := decode(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return result, nil
}

func (p *HTTPProvider) post(ctx context.Context, url string, payload any) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	// Rate limit and IP block detection
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: http %d", ErrThrottled, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if IsThrottleMessage(string(body)) {
			return nil, fmt.Errorf("%w: %s", ErrThrottled, string(body))
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// decode keeps numbers as json.Number so raw amounts never pass through float64.
func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
