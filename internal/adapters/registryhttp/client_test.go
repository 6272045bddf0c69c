package registryhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/nftmarket/internal/domain"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", Options{Operator: "market", Timeout: 2 * time.Second, RetryCount: 2, APIKey: "secret"})
}

func TestClient_OwnerOf(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/registries/punks/tokens/nft-1/owner", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"owner": "alice"})
	})

	owner, err := c.OwnerOf(context.Background(), "punks", "nft-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestClient_OwnerOfNotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such token"}`))
	})

	_, err := c.OwnerOf(context.Background(), "punks", "nft-9")
	require.ErrorIs(t, err, ErrUnknownAsset)
	assert.Contains(t, err.Error(), "no such token")
}

func TestClient_Approvals(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/registries/punks/owners/alice/approvals", r.URL.Path)
		_, _ = w.Write([]byte(`{"approvals":[{"spender":"market","expires":{"at_height":200}},{"spender":"other","expires":{"never":{}}}]}`))
	})

	approvals, err := c.Approvals(context.Background(), "punks", "alice")
	require.NoError(t, err)
	require.Len(t, approvals, 2)
	assert.True(t, approvals[0].Equal(domain.Approval{Spender: "market", Expires: domain.AtHeight(200)}))
	assert.Equal(t, domain.ExpiresNever, approvals[1].Expires.Kind)
}

func TestClient_RetriesQueriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"owner":"bob"}`))
	})

	owner, err := c.OwnerOf(context.Background(), "punks", "nft-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_TransferAsset(t *testing.T) {
	var got transferRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/registries/punks/tokens/nft-1/transfer", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.TransferAsset(context.Background(), "punks", "nft-1", "carol"))
	assert.Equal(t, transferRequest{Operator: "market", Recipient: "carol"}, got)
}

func TestClient_TransferIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.TransferAsset(context.Background(), "punks", "nft-1", "carol")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TransferRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"operator not approved"}`))
	})

	err := c.TransferAsset(context.Background(), "punks", "nft-1", "carol")
	assert.ErrorIs(t, err, ErrRejected)
}
