package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/monitoring"
)

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(origins, monitoring.NewMetrics(), nil)
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/stream/:slug", func(c *gin.Context) {
		slug := c.Param("slug")
		hub.Serve(c, &domain.Inbox{ID: "id-" + slug, Slug: slug})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, slug string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/" + slug
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubStream(t *testing.T) {
	t.Run("订阅后收到新事件", func(t *testing.T) {
		hub, srv := startHub(t, nil)
		conn := dial(t, srv, "contact")

		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeSubscribed, msg.Type)
		assert.Equal(t, "contact", msg.Inbox)
		assert.Equal(t, 1, hub.Subscribers("id-contact"))

		hub.NotifyEvent("contact", &domain.Event{
			ID:      "ev-1",
			InboxID: "id-contact",
			Method:  "POST",
			Body:    domain.PayloadFromPairs("name", "Jane"),
		})

		msg = readMessage(t, conn)
		assert.Equal(t, MessageTypeEvent, msg.Type)
		var ev domain.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "ev-1", ev.ID)
		v, _ := ev.Body.Get("name")
		assert.Equal(t, "Jane", v)
	})

	t.Run("只推送给对应收件箱", func(t *testing.T) {
		hub, srv := startHub(t, nil)
		a := dial(t, srv, "a")
		b := dial(t, srv, "b")
		readMessage(t, a)
		readMessage(t, b)

		hub.NotifyEvent("b", &domain.Event{ID: "ev-b", InboxID: "id-b"})
		msg := readMessage(t, b)
		assert.Equal(t, MessageTypeEvent, msg.Type)

		require.NoError(t, a.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		_, _, err := a.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("客户端 ping 得到 pong", func(t *testing.T) {
		_, srv := startHub(t, nil)
		conn := dial(t, srv, "contact")
		readMessage(t, conn)

		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
		assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
	})

	t.Run("断开后取消订阅", func(t *testing.T) {
		hub, srv := startHub(t, nil)
		conn := dial(t, srv, "contact")
		readMessage(t, conn)
		conn.Close()

		assert.Eventually(t, func() bool { return hub.Subscribers("id-contact") == 0 }, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("拒绝不允许的来源", func(t *testing.T) {
		_, srv := startHub(t, []string{"https://app.example.com"})
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/contact"
		header := map[string][]string{"Origin": {"https://evil.example.com"}}
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 403, resp.StatusCode)
	})
}
