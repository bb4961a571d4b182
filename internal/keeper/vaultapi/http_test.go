package vaultapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

func testClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "tok", logging.NewDiscard())
}

func TestHTTPClient_CreatePacket(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/packets", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var in packetDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "req-1", in.CreateRequestID)
		assert.JSONEq(t, `{"kind":"note"}`, string(in.Payload))

		in.ID = "p1"
		in.CreatedAt = time.Now().UTC()
		in.UpdatedAt = in.CreatedAt
		_ = json.NewEncoder(w).Encode(in)
	})

	p, err := c.CreatePacket(context.Background(), &models.Packet{
		CreateRequestID: "req-1",
		OwnerID:         "alice",
		Payload:         models.PlainPayload{Data: []byte(`{"kind":"note"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "alice", p.OwnerID)
	plain, ok := p.Payload.(models.PlainPayload)
	require.True(t, ok)
	assert.JSONEq(t, `{"kind":"note"}`, string(plain.Data))
}

func TestHTTPClient_EncryptedPayloadStaysSealed(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in packetDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		// The wire form must carry the encryption envelope untouched.
		var env map[string]any
		require.NoError(t, json.Unmarshal(in.Payload, &env))
		assert.Equal(t, true, env["encrypted"])
		_ = json.NewEncoder(w).Encode(in)
	})

	p, err := c.CreatePacket(context.Background(), &models.Packet{
		CreateRequestID: "req-1",
		Payload:         models.EncryptedPayload{Data: []byte{1, 2}, Nonce: []byte{3, 4}},
	})
	require.NoError(t, err)
	enc, ok := p.Payload.(models.EncryptedPayload)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, enc.Data)
}

func TestHTTPClient_GetPacket_NotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such packet", http.StatusNotFound)
	})
	_, err := c.GetPacket(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestHTTPClient_Unauthorized(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})
	_, err := c.GetPacket(context.Background(), "p1")
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestHTTPClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewHTTPClient(srv.URL, "tok", logging.NewDiscard())

	err := c.Ping(context.Background())
	require.ErrorIs(t, err, common.ErrUnavailable)
}

func TestHTTPClient_ListPackets_QueryAndSkips(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "alice", q.Get("owner"))
		assert.Equal(t, "chat-conversation,work", q.Get("tags"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "desc", q.Get("sort"))

		_, _ = w.Write([]byte(`[
			{"id":"p1","createRequestId":"r1","ownerId":"alice","payload":{"t":1}},
			{"id":"p2","createRequestId":"r2","ownerId":"alice"}
		]`))
	})

	rows, err := c.ListPackets(context.Background(), packets.Query{
		OwnerID: "alice",
		Tags:    []string{"chat-conversation", "work"},
		Limit:   20,
		Sort:    packets.SortDesc,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[0].ID)
	assert.Nil(t, rows[1].Payload)
}

func TestHTTPClient_UpdateAndDelete(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			assert.Equal(t, "/packets/p1", r.URL.Path)
			var in packetUpdateDTO
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "upd-1", in.RequestID)
			_, _ = w.Write([]byte(`{"id":"p1","createRequestId":"r1"}`))
		case http.MethodDelete:
			assert.Equal(t, "/packets/p1", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	p, err := c.UpdatePacket(context.Background(), "upd-1", models.PacketUpdate{
		ID: "p1", Tags: []string{"work"},
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	require.NoError(t, c.DeletePacket(context.Background(), "p1"))
}

func TestHTTPClient_APIKeys(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/apikeys":
			var in apiKeyDTO
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			in.ID = "k1"
			_ = json.NewEncoder(w).Encode(in)
		case r.Method == http.MethodGet && r.URL.Path == "/apikeys/openai":
			assert.Equal(t, "alice", r.URL.Query().Get("owner"))
			_, _ = w.Write([]byte(`{"id":"k1","provider":"openai","ownerId":"alice","secret":"sk-1"}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	saved, err := c.SaveAPIKey(ctx, &models.APIKey{
		Provider: "openai",
		OwnerID:  "alice",
		Secret:   models.PlainPayload{Data: []byte(`"sk-1"`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "k1", saved.ID)

	got, err := c.GetAPIKey(ctx, "openai", "alice")
	require.NoError(t, err)
	plain, ok := got.Secret.(models.PlainPayload)
	require.True(t, ok)
	assert.JSONEq(t, `"sk-1"`, string(plain.Data))

	require.NoError(t, c.DeleteAPIKey(ctx, "openai", "alice"))
}
