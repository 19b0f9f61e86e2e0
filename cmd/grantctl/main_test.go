package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/transfer"
	"github.com/bitfsorg/libgrant-go/wallet"
)

func TestParseGrant(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    transfer.GrantRequest
		wantErr bool
	}{
		{in: "0xb0b", want: transfer.GrantRequest{Address: "0xb0b"}},
		{in: "0xb0b=never", want: transfer.GrantRequest{Address: "0xb0b", Never: true}},
		{in: "0xb0b=NEVER", want: transfer.GrantRequest{Address: "0xb0b", Never: true}},
		{in: "0xb0b=2h", want: transfer.GrantRequest{Address: "0xb0b", ExpiresAt: now.Add(2 * time.Hour)}},
		{in: "0xb0b=2025-06-01T12:00:00Z", want: transfer.GrantRequest{Address: "0xb0b", ExpiresAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}},
		{in: "=2h", wantErr: true},
		{in: "0xb0b=-5m", wantErr: true},
		{in: "0xb0b=tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseGrant(tt.in, now)
		if tt.wantErr {
			assert.ErrorIs(t, err, transfer.ErrInvalidGrant, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want.Address, got.Address, tt.in)
		assert.Equal(t, tt.want.Never, got.Never, tt.in)
		assert.True(t, tt.want.ExpiresAt.Equal(got.ExpiresAt), tt.in)
	}
}

func TestParseFaucet(t *testing.T) {
	addr, n, err := parseFaucet("0xb0b=1000")
	require.NoError(t, err)
	assert.Equal(t, "0xb0b", addr)
	assert.Equal(t, uint64(1000), n)

	_, _, err = parseFaucet("0xb0b")
	assert.Error(t, err)
	_, _, err = parseFaucet("0xb0b=lots")
	assert.Error(t, err)
}

func TestFormatExpiry(t *testing.T) {
	assert.Equal(t, "never", formatExpiry(0))
	assert.Equal(t, "2023-11-14T22:13:20Z", formatExpiry(1_700_000_000_000))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(transfer.Classify(transfer.ErrAccessDenied)))
	assert.Equal(t, 3, exitCode(transfer.Classify(wallet.ErrRejected)))
	assert.Equal(t, 4, exitCode(transfer.Classify(ledger.ErrCapabilityNotFound)))
	assert.Equal(t, 5, exitCode(transfer.Classify(ledger.ErrConflict)))
	assert.Equal(t, 6, exitCode(transfer.Classify(ledger.ErrInsufficientFunds)))
	assert.Equal(t, 1, exitCode(transfer.Classify(errors.New("boom"))))
}

func TestWordsToEntropy(t *testing.T) {
	assert.Equal(t, wallet.Mnemonic12Words, wordsToEntropy(12))
	assert.Equal(t, wallet.Mnemonic24Words, wordsToEntropy(24))
	_, err := wallet.GenerateMnemonic(wordsToEntropy(15))
	assert.ErrorIs(t, err, wallet.ErrInvalidEntropy)
}

func TestServeHTTP_Shutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveHTTP(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}), zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeHTTP_ListenError(t *testing.T) {
	err := serveHTTP(context.Background(), "not-an-address", http.NotFoundHandler(), zap.NewNop())
	assert.Error(t, err)
}
