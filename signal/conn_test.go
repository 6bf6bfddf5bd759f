package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnCountsDropsOnBrokenSocket(t *testing.T) {
	serverConns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- ws
	}))
	defer ts.Close()

	peer := dialHub(t, "ws"+strings.TrimPrefix(ts.URL, "http"))
	var server *websocket.Conn
	select {
	case server = <-serverConns:
	case <-time.After(recvWait):
		t.Fatal("timed out waiting for server-side connection")
	}

	c := newConn(server)
	defer c.Close()

	// Kill the transport underneath so every write fails.
	require.NoError(t, server.UnderlyingConn().Close())
	peer.Close()

	before := testutil.ToFloat64(framesDropped)
	for i := 0; i < 3; i++ {
		c.Send(Envelope{Type: TypePeerList, Payload: "[]"})
	}

	// The failed write and each discard after it count as drops.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(framesDropped) >= before+3
	}, recvWait, 10*time.Millisecond)
}
