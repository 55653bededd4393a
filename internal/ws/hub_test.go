package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skillyug/config"
	"skillyug/internal/auth"
	"skillyug/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderHub_BroadcastOnlyToOwner(t *testing.T) {
	hub := NewOrderHub()
	mine := NewClient("buyer-1", "BUYER")
	other := NewClient("buyer-2", "BUYER")
	hub.Register(mine)
	hub.Register(other)

	hub.OrderUpdated(&models.Order{OrderRef: "ord_1", BuyerID: "buyer-1", CourseID: "c1", Status: "ENTITLED"})

	select {
	case msg := <-mine.Send:
		var ev OrderStatusEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "order_status", ev.Type)
		assert.Equal(t, "ord_1", ev.OrderRef)
		assert.Equal(t, "ENTITLED", ev.Status)
	default:
		t.Fatal("expected a message for the owner")
	}
	assert.Len(t, other.Send, 0)
}

func TestClient_CloseUnregistersAndDropsLateMessages(t *testing.T) {
	hub := NewOrderHub()
	c := NewClient("buyer-1", "BUYER")
	hub.Register(c)
	require.Equal(t, 1, hub.ClientCount())

	c.Close()
	c.Close()

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.BroadcastToBuyer("buyer-1", map[string]string{"type": "x"}))
	assert.False(t, c.trySend([]byte("late")))
}

func TestUpgradeOrdersWS_PushesStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.JWTConfig{AccessSecret: "ws-secret", AccessExpiry: time.Minute, Issuer: "skillyug"}
	hub := NewOrderHub()
	r := gin.New()
	r.GET("/ws/orders", UpgradeOrdersWS(cfg, hub))
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/orders"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := auth.GenerateAccessToken(cfg, "buyer-1", "", "BUYER")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+tok, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.OrderUpdated(&models.Order{OrderRef: "ord_9", BuyerID: "buyer-1", Status: "VERIFIED"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev OrderStatusEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "ord_9", ev.OrderRef)
	assert.Equal(t, "VERIFIED", ev.Status)
}
