package luminary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportRequestShape(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL+"/", APIKey("sk-test"), HTTPTransportOptions{})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("X-Request-ID", "req_1")
	resp, err := tr.Roundtrip(context.Background(), http.MethodPost, "/v1/messages", []byte(`{"model":"m"}`), header)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, resp.OK())
	assert.Equal(t, "/v1/messages", got.URL.Path)
	assert.Equal(t, "sk-test", got.Header.Get("x-api-key"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "luminary-go/"+Version, got.Header.Get("User-Agent"))
	assert.Equal(t, "req_1", got.Header.Get("X-Request-ID"))
	assert.Equal(t, `{"model":"m"}`, string(gotBody))
}

func TestHTTPTransportBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL, BearerToken("tok"), HTTPTransportOptions{})
	require.NoError(t, err)

	resp, err := tr.Roundtrip(context.Background(), http.MethodPost, "/", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer tok", auth)
}

func TestHTTPTransportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL, nil, HTTPTransportOptions{})
	require.NoError(t, err)

	resp, err := tr.Roundtrip(context.Background(), http.MethodPost, "/", []byte(`{}`), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPTransportNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":"invalid_request"}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL, nil, HTTPTransportOptions{})
	require.NoError(t, err)

	resp, err := tr.Roundtrip(context.Background(), http.MethodPost, "/", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	// 4xx (except 429) is the caller's problem, surfaced once.
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPTransportExhaustedRetriesReturnLastResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"rate_limited","message":"slow down"}}`))
	}))
	defer srv.Close()

	// Retries disabled keeps the test to a single attempt.
	tr, err := NewHTTPTransport(srv.URL, nil, HTTPTransportOptions{MaxRetries: -1})
	require.NoError(t, err)

	resp, err := tr.Roundtrip(context.Background(), http.MethodPost, "/", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())

	// The buffered body survives the retry loop so the client can map it.
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rate_limited")
}

func TestNewHTTPTransportValidation(t *testing.T) {
	_, err := NewHTTPTransport("", nil, HTTPTransportOptions{})
	assert.True(t, IsConfiguration(err))

	_, err = NewHTTPTransport("://bad", nil, HTTPTransportOptions{})
	assert.True(t, IsConfiguration(err))
}

func TestResponseHelpers(t *testing.T) {
	r := &Response{
		StatusCode: 204,
		Header:     http.Header{"Content-Type": []string{"Application/X-NDJSON; charset=UTF-8"}},
	}
	assert.True(t, r.OK())
	assert.Equal(t, "application/x-ndjson; charset=utf-8", r.ContentType())

	r = &Response{StatusCode: 302}
	assert.False(t, r.OK())
}
