package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAndRenderRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rooms":[{"id":"standup","peer_count":3,"producer_count":2}]}`))
	}))
	defer srv.Close()

	rooms, err := fetchRooms(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, []core.RoomInfo{{ID: "standup", PeerCount: 3, ProducerCount: 2}}, rooms)

	var out bytes.Buffer
	renderRooms(&out, rooms)
	assert.Contains(t, out.String(), "standup")
	assert.Contains(t, strings.ToLower(out.String()), "1 rooms")
}

func TestFetchRooms_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchRooms(context.Background(), srv.URL)
	assert.Error(t, err)
}
