package threshold

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// maxResponseSize bounds key server response bodies.
const maxResponseSize = 1 << 20

// HTTPKeyServer talks to a remote key server.
type HTTPKeyServer struct {
	objectID string
	baseURL  string
	client   *http.Client
}

var _ KeyServerClient = (*HTTPKeyServer)(nil)

// NewHTTPKeyServer returns a client for the key server at baseURL. A nil
// client uses a 30 second timeout.
func NewHTTPKeyServer(objectID, baseURL string, client *http.Client) (*HTTPKeyServer, error) {
	id, err := ledger.NormalizeAddress(objectID)
	if err != nil {
		return nil, fmt.Errorf("threshold: key server id: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPKeyServer{objectID: id, baseURL: strings.TrimRight(baseURL, "/"), client: client}, nil
}

// ObjectID returns the server's object id.
func (h *HTTPKeyServer) ObjectID() string { return h.objectID }

// FetchKey posts req to /v1/fetch_key.
func (h *HTTPKeyServer) FetchKey(ctx context.Context, req *FetchKeyRequest) (*FetchKeyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("threshold: marshal request: %w", err)
	}
	var out FetchKeyResponse
	if err := h.do(ctx, http.MethodPost, PathFetchKey, body, &out); err != nil {
		return nil, err
	}
	if out.ServerID != h.objectID {
		return nil, fmt.Errorf("%w: response from %s, expected %s", ErrTransport, out.ServerID, h.objectID)
	}
	return &out, nil
}

// Service fetches the server's advertised object id and public key.
func (h *HTTPKeyServer) Service(ctx context.Context) (*ServerInfo, error) {
	var out ServiceInfo
	if err := h.do(ctx, http.MethodGet, PathService, nil, &out); err != nil {
		return nil, err
	}
	id, err := ledger.NormalizeAddress(out.ObjectID)
	if err != nil || id != h.objectID {
		return nil, fmt.Errorf("%w: service reports id %q", ErrTransport, out.ObjectID)
	}
	raw, err := hex.DecodeString(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %w", ErrTransport, err)
	}
	pub, err := ec.PublicKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %w", ErrTransport, err)
	}
	return &ServerInfo{ObjectID: id, PublicKey: pub, URL: h.baseURL}, nil
}

func (h *HTTPKeyServer) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, h.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrTransport, err)
	}
	return nil
}

// statusError maps a key server error response back to a sentinel.
func statusError(status int, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := eb.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	switch {
	case status == http.StatusUnauthorized && eb.Code == errCodeExpired:
		return fmt.Errorf("%w: %s", ErrSessionExpired, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAccessDenied, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrTransport, status, msg)
	}
}
