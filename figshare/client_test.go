package figshare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	logger := log.NewLogger()
	return NewClient(NewHTTPClient(logger, 0), serverURL+"/v2/{endpoint}", "secret-token", logger)
}

func TestIssueRequest_SendsTokenAndJSON(t *testing.T) {
	var gotAuth, gotContentType, gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprint(w, `{"location": "https://example.com/x"}`)
	}))
	defer server.Close()

	var loc Location
	body, err := newTestClient(server.URL).IssueRequest(context.Background(), http.MethodPost, "account/articles", map[string]string{"title": "Dataset A"}, &loc)
	require.NoError(t, err)

	assert.Equal(t, "token secret-token", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "/v2/account/articles", gotPath)
	assert.Equal(t, map[string]string{"title": "Dataset A"}, gotBody)
	assert.Equal(t, "https://example.com/x", loc.Location)
	assert.JSONEq(t, `{"location": "https://example.com/x"}`, string(body))
}

func TestRawIssueRequest_NonJSONBodyIsReturnedRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "plain text")
	}))
	defer server.Close()

	var out map[string]interface{}
	body, err := newTestClient(server.URL).RawIssueRequest(context.Background(), http.MethodGet, server.URL+"/anything", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(body))
	assert.Nil(t, out)
}

func TestRawIssueRequest_BodyIsNotTrimmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "  plain text\n")
	}))
	defer server.Close()

	body, err := newTestClient(server.URL).RawIssueRequest(context.Background(), http.MethodGet, server.URL+"/anything", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "  plain text\n", string(body))
}

func TestRawIssueBinary_SendsRawBytes(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	var gotBody []byte
	var gotContentType, gotAuth string
	var gotLength int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotLength = r.ContentLength
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).RawIssueBinary(context.Background(), http.MethodPut, server.URL+"/upload/abc/1", payload)
	require.NoError(t, err)
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Equal(t, "token secret-token", gotAuth)
	assert.Equal(t, int64(len(payload)), gotLength)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "payload too large", status: http.StatusRequestEntityTooLarge, body: `{"message": "file too big"}`},
		{name: "not found", status: http.StatusNotFound, body: "nope"},
		{name: "server error is not retried away", status: http.StatusInternalServerError, body: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).IssueRequest(context.Background(), http.MethodGet, "account/articles", nil, nil)
			require.Error(t, err)

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr), "expected HTTPError, got %T: %s", err, err)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.body, string(httpErr.Body))
			assert.Equal(t, 1, calls)

			var transportErr *TransportError
			assert.False(t, errors.As(err, &transportErr))
		})
	}
}

func TestErrorClassification_ConnectionDrop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).IssueRequest(context.Background(), http.MethodPost, "account/articles", map[string]string{"title": "x"}, nil)
	require.Error(t, err)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "expected TransportError, got %T: %s", err, err)
	assert.Equal(t, http.MethodPost, transportErr.Method)

	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestErrorClassification_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url).IssueRequest(context.Background(), http.MethodGet, "account/articles", nil, nil)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "expected TransportError, got %T: %s", err, err)
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	client.SetRequestTimeout(50 * time.Millisecond)

	_, err := client.IssueRequest(context.Background(), http.MethodGet, "account/articles", nil, nil)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "expected TransportError, got %T: %s", err, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{Method: "PUT", URL: "https://u/1", StatusCode: 413, Body: []byte("big")}
	assert.Equal(t, "PUT https://u/1: HTTP 413 Request Entity Too Large", err.Error())
	assert.False(t, strings.Contains(err.Error(), "big"))
}
