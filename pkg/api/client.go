// Package api is the REST client for the mutations the sync layer performs.
package api

import (
	"context"
	"strconv"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/telemetry"
)

const userAgent = "Sidechain-Sync/0.1.0"

// ErrorResponse is the error body the API returns
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Client wraps a resty client configured for the API
type Client struct {
	http *resty.Client
}

// New creates a client from API settings
func New(cfg config.API) *Client {
	http := resty.New()
	http.SetBaseURL(cfg.BaseURL)
	if cfg.Timeout > 0 {
		http.SetTimeout(cfg.Timeout)
	}
	http.SetTransport(telemetry.Transport(nil))
	http.SetHeader("User-Agent", userAgent)
	http.JSONMarshal = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal
	http.JSONUnmarshal = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal

	http.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.Debug("HTTP Request", "method", req.Method, "url", req.URL)
		return nil
	})
	http.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.Debug("HTTP Response", "status", resp.StatusCode(), "duration", resp.Time())
		return nil
	})

	return &Client{http: http}
}

// SetAuthToken sets the bearer token sent with every request
func (c *Client) SetAuthToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// check turns a transport failure or non-2xx response into a SyncError
func check(resp *resty.Response, err error, operation string) error {
	if err != nil {
		return syncerrors.CategorizeError(err)
	}
	if resp.IsSuccess() {
		return nil
	}
	return parseError(resp, operation)
}

func parseError(resp *resty.Response, operation string) *syncerrors.SyncError {
	status := resp.StatusCode()
	err := syncerrors.FromStatus(status, operation)

	var body ErrorResponse
	if jerr := jsoniter.Unmarshal(resp.Body(), &body); jerr == nil && body.Message != "" {
		err.Message = operation + ": " + body.Message
	}
	if err.Type == syncerrors.ErrorTypeRateLimit {
		if secs, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil && secs > 0 {
			err.RetryAfter = secs
		}
	}
	return err
}
