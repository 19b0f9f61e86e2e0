package threshold

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (w *world) serveHTTP(t *testing.T, opts HandlerOptions) []*HTTPKeyServer {
	t.Helper()
	var out []*HTTPKeyServer
	for _, ks := range w.servers {
		srv := httptest.NewServer(NewHandler(ks, opts))
		t.Cleanup(srv.Close)
		c, err := NewHTTPKeyServer(ks.ObjectID(), srv.URL, srv.Client())
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

// --- HTTP transport tests ---

func TestHTTP_DecryptEndToEnd(t *testing.T) {
	w := newWorld(t)
	remotes := w.serveHTTP(t, HandlerOptions{})
	enc := w.encrypt(t, []byte("over the wire"))

	var clients []KeyServerClient
	for _, r := range remotes {
		clients = append(clients, r)
	}
	got, err := w.client(t, clients...).Decrypt(context.Background(), enc, w.session(t, w.reader), w.approval(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("over the wire"), got)

	_, err = w.client(t, clients...).Decrypt(context.Background(), enc, w.session(t, w.stranger), w.approval(t))
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	w := newWorld(t)
	remotes := w.serveHTTP(t, HandlerOptions{})
	enc := w.encrypt(t, []byte("x"))
	ctx := context.Background()

	t.Run("denied", func(t *testing.T) {
		_, err := remotes[0].FetchKey(ctx, w.request(t, w.session(t, w.stranger), enc, 0))
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("expired", func(t *testing.T) {
		old := newSession(t, w.reader, w.node.PackageID(), w.now.Add(-time.Hour), 10)
		_, err := remotes[0].FetchKey(ctx, w.request(t, old, enc, 0))
		assert.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("forged certificate", func(t *testing.T) {
		req := w.request(t, w.session(t, w.reader), enc, 0)
		req.Certificate.Address = w.stranger.Address()
		_, err := remotes[0].FetchKey(ctx, req)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("wrong server is a transport error", func(t *testing.T) {
		_, err := remotes[1].FetchKey(ctx, w.request(t, w.session(t, w.reader), enc, 0))
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("unreachable", func(t *testing.T) {
		c, err := NewHTTPKeyServer("0x51", "http://127.0.0.1:1", nil)
		require.NoError(t, err)
		_, err = c.FetchKey(ctx, w.request(t, w.session(t, w.reader), enc, 0))
		assert.ErrorIs(t, err, ErrTransport)
	})
}

func TestHTTP_StatusCodes(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"code":"expired","message":"old"}`, ErrSessionExpired},
		{http.StatusUnauthorized, `{"code":"invalid_certificate"}`, ErrAccessDenied},
		{http.StatusForbidden, `{"code":"access_denied"}`, ErrAccessDenied},
		{http.StatusBadRequest, `{"code":"bad_request"}`, ErrTransport},
		{http.StatusTooManyRequests, `{"code":"rate_limited"}`, ErrTransport},
		{http.StatusBadGateway, `upstream down`, ErrTransport},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(tt.status)
				_, _ = rw.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewHTTPKeyServer("0x1", srv.URL, nil)
			require.NoError(t, err)
			_, err = c.FetchKey(context.Background(), &FetchKeyRequest{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTP_ResponseFromWrongServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"server_id":"0x2","index":0}`))
	}))
	defer srv.Close()

	c, err := NewHTTPKeyServer("0x1", srv.URL, nil)
	require.NoError(t, err)
	_, err = c.FetchKey(context.Background(), &FetchKeyRequest{})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestHTTP_Service(t *testing.T) {
	w := newWorld(t)
	remotes := w.serveHTTP(t, HandlerOptions{})

	info, err := remotes[2].Service(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.servers[2].ObjectID(), info.ObjectID)
	assert.Equal(t, w.servers[2].PublicKey().Compressed(), info.PublicKey.Compressed())

	wrong, err := NewHTTPKeyServer(w.servers[0].ObjectID(), info.URL, nil)
	require.NoError(t, err)
	_, err = wrong.Service(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestHandler_RequestID(t *testing.T) {
	w := newWorld(t)
	srv := httptest.NewServer(NewHandler(w.servers[0], HandlerOptions{}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+PathService, nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))

	resp, err = http.Get(srv.URL + PathService)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Len(t, resp.Header.Get(RequestIDHeader), 36)
}

func TestHandler_BadJSON(t *testing.T) {
	w := newWorld(t)
	srv := httptest.NewServer(NewHandler(w.servers[0], HandlerOptions{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+PathFetchKey, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_RateLimit(t *testing.T) {
	w := newWorld(t)
	srv := httptest.NewServer(NewHandler(w.servers[0], HandlerOptions{RateLimit: 0.001, Burst: 2}))
	defer srv.Close()

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + PathService)
		require.NoError(t, err)
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", ErrSessionExpired), http.StatusUnauthorized},
		{ErrInvalidCertificate, http.StatusUnauthorized},
		{fmt.Errorf("%w: %w", ErrAccessDenied, ErrInvalidApproval), http.StatusForbidden},
		{ErrMalformedObject, http.StatusBadRequest},
		{ErrUnknownServer, http.StatusBadRequest},
		{errors.New("ledger down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
