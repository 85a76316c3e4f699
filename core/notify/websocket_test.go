package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
)

type fakeResolver map[string]int64

func (f fakeResolver) ResolveTenant(ctx context.Context, token string) (int64, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return 0, core.Errorf(core.EUnauthorized, "fake", "invalid access token")
}

func waitForClients(t *testing.T, bus *Bus, tenantID int64, n int) {
	require.Eventually(t, func() bool {
		return len(bus.Clients(tenantID)) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketHandler(t *testing.T) {
	bus := NewBus(nil, nil)
	server := httptest.NewServer(bus.Handler(fakeResolver{"secret": 42}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	_, res, err := websocket.DefaultDialer.Dial(url+"?access_token=wrong", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token=secret&client_id=me", nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, bus, 42, 1)
	assert.Equal(t, []string{"me"}, bus.Clients(42))

	assert.Equal(t, 1, bus.Notify(context.Background(), 42, core.Event{Name: "resource_created", Data: map[string]interface{}{"a": 1}}, nil))
	var event map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "resource_created", event["name"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, event["data"])

	header := http.Header{}
	header.Set("Access-Token", "secret")
	second, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	waitForClients(t, bus, 42, 2)

	second.Close()
	waitForClients(t, bus, 42, 1)
}
