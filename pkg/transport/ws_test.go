package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

func TestWSChannelRoundTrip(t *testing.T) {
	var server *WSChannel
	serverReady := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		var err error
		server, err = UpgradeWS(w, r, nil)
		require.NoError(t, err)
		close(serverReady)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	client, err := DialWS(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	<-serverReady
	defer server.Close()

	env := &envelope.Envelope{ID: "e1", Kind: envelope.KindChat, From: "agent-1"}
	require.NoError(t, client.Send(env))

	select {
	case received := <-server.Inbound():
		assert.Equal(t, env.ID, received.ID)
		assert.Equal(t, env.Kind, received.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestWSChannelCloseStopsInbound(t *testing.T) {
	var server *WSChannel
	serverReady := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		var err error
		server, err = UpgradeWS(w, r, nil)
		require.NoError(t, err)
		close(serverReady)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	client, err := DialWS(context.Background(), wsURL, nil)
	require.NoError(t, err)

	<-serverReady
	require.NoError(t, client.Close())

	select {
	case _, ok := <-server.Inbound():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
