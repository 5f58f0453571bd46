// Package figshare is a client for the figshare v2 API and its upload service.
package figshare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/bitrise-io/figshare-uploader/urltemplate"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Client issues authenticated requests against the metadata API and the
// upload service.
type Client struct {
	httpClient     *retryablehttp.Client
	baseURL        string
	token          string
	requestTimeout time.Duration
	logger         log.Logger
}

// NewHTTPClient returns the retryable HTTP client used by Client. retryMax 0
// disables retries. The last response is always handed back to the caller, so
// a 5xx answer stays an HTTPError instead of a "giving up" error.
func NewHTTPClient(logger log.Logger, retryMax int) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = retryMax
	client.CheckRetry = createCustomRetryFunction(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

func createCustomRetryFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

// NewClient creates a Client. baseURL is a template with an {endpoint}
// placeholder, such as "https://api.figshare.com/v2/{endpoint}".
func NewClient(httpClient *retryablehttp.Client, baseURL, token string, logger log.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		logger:     logger,
	}
}

// SetRequestTimeout bounds every single request, 0 means no deadline.
func (c *Client) SetRequestTimeout(d time.Duration) {
	c.requestTimeout = d
}

// URL returns the metadata API URL of endpoint.
func (c *Client) URL(endpoint string) (string, error) {
	return urltemplate.Build(c.baseURL, map[string]string{"endpoint": endpoint})
}

// IssueRequest sends a JSON request to an endpoint of the metadata API.
// See RawIssueRequest for data, out and the returned body.
func (c *Client) IssueRequest(ctx context.Context, method, endpoint string, data, out interface{}) ([]byte, error) {
	resp, err := c.endpointRequest(ctx, method, endpoint, data, out)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// RawIssueRequest sends a request to an absolute URL. data, if not nil, is
// JSON encoded as the request body. On a 2xx response the raw body is
// returned and, if out is not nil and the body is JSON, decoded into out;
// a body that is not JSON leaves out untouched.
func (c *Client) RawIssueRequest(ctx context.Context, method, url string, data, out interface{}) ([]byte, error) {
	resp, err := c.jsonRequest(ctx, method, url, data, out)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

type response struct {
	method     string
	url        string
	statusCode int
	body       []byte
}

// missingField reports a 2xx response that lacks a field the protocol needs.
func (r response) missingField(field string) error {
	return &HTTPError{
		Method:     r.method,
		URL:        r.url,
		StatusCode: r.statusCode,
		Body:       r.body,
		Reason:     fmt.Sprintf("response has no %q field", field),
	}
}

func (c *Client) endpointRequest(ctx context.Context, method, endpoint string, data, out interface{}) (response, error) {
	url, err := c.URL(endpoint)
	if err != nil {
		return response{}, fmt.Errorf("build URL: %w", err)
	}
	return c.jsonRequest(ctx, method, url, data, out)
}

func (c *Client) jsonRequest(ctx context.Context, method, url string, data, out interface{}) (response, error) {
	var body interface{}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return response{}, fmt.Errorf("encode request body: %w", err)
		}
		body = b
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return response{}, err
	}

	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			c.logger.Debugf("Response of %s %s is not JSON: %s", method, url, err)
		}
	}
	return resp, nil
}

// RawIssueBinary sends data as an opaque body, used for part uploads.
func (c *Client) RawIssueBinary(ctx context.Context, method, url string, data []byte) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, data)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	// retryablehttp doesn't set it for byte slices
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	req.ContentLength = int64(len(data))

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) do(req *retryablehttp.Request) (response, error) {
	method, url := req.Method, req.URL.String()

	// Dumped before the token is attached.
	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))

	req.Header.Set("Authorization", "token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, &TransportError{Method: method, URL: url, Err: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warnf("Failed to close response body: %s", err)
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, &TransportError{Method: method, URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}
	c.logger.Debugf("%s %s: HTTP %d, %d bytes", method, url, resp.StatusCode, len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response{}, &HTTPError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: respBody}
	}
	return response{method: method, url: url, statusCode: resp.StatusCode, body: respBody}, nil
}
