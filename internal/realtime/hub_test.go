package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

func startHub(t *testing.T, actor models.Actor) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(8, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, actor)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, table string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Table: table}))
	ack := readMessage(t, conn)
	require.Equal(t, "subscribed", ack.Type)
	require.Equal(t, table, ack.Table)
}

func TestHubDeliversToAudience(t *testing.T) {
	hub, conn := startHub(t, models.Actor{UserID: "builder-1", Role: models.RoleBuilder})
	subscribe(t, conn, TablePurchaseOrders)

	hub.Publish(Change{Table: TablePurchaseOrders, Type: EventUpdate, RecordID: "po-other", Audience: []string{"builder-2"}})
	hub.Publish(Change{Table: TableInvoices, Type: EventInsert, RecordID: "inv-1", Audience: []string{"builder-1"}})
	hub.Publish(Change{Table: TablePurchaseOrders, Type: EventInsert, RecordID: "po-1", Audience: []string{"builder-1", "supplier-1"}})

	msg := readMessage(t, conn)
	assert.Equal(t, "change", msg.Type)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "po-1", msg.Change.RecordID)
	assert.Equal(t, EventInsert, msg.Change.Type)
	assert.False(t, msg.Change.At.IsZero())
}

func TestHubAdminSeesEverything(t *testing.T) {
	hub, conn := startHub(t, models.Actor{UserID: "admin-1", Role: models.RoleAdmin})
	subscribe(t, conn, TableDeliveries)

	hub.Publish(Change{Table: TableDeliveries, Type: EventUpdate, RecordID: "d-1", Audience: []string{"builder-9"}})

	msg := readMessage(t, conn)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "d-1", msg.Change.RecordID)
}

func TestHubRejectsUnknownTable(t *testing.T) {
	_, conn := startHub(t, models.Actor{UserID: "builder-1", Role: models.RoleBuilder})

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Table: "profiles_secret"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unknown table", msg.Error)
}

func TestHubUnsubscribe(t *testing.T) {
	hub, conn := startHub(t, models.Actor{UserID: "supplier-1", Role: models.RoleSupplier})
	subscribe(t, conn, TableQRCodes)
	subscribe(t, conn, TableInvoices)

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "unsubscribe", Table: TableQRCodes}))
	assert.Equal(t, "unsubscribed", readMessage(t, conn).Type)

	hub.Publish(Change{Table: TableQRCodes, Type: EventUpdate, RecordID: "qr-1", Audience: []string{"supplier-1"}})
	hub.Publish(Change{Table: TableInvoices, Type: EventUpdate, RecordID: "inv-1", Audience: []string{"supplier-1"}})

	msg := readMessage(t, conn)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "inv-1", msg.Change.RecordID)
}

func TestHubClientCount(t *testing.T) {
	hub, conn := startHub(t, models.Actor{UserID: "builder-1", Role: models.RoleBuilder})
	subscribe(t, conn, TablePurchaseOrders)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(1, nil)
	newClient := func(userID string) *client {
		c := &client{
			hub:    hub,
			actor:  models.Actor{UserID: userID, Role: models.RoleBuilder},
			send:   make(chan serverMessage, hub.sendBuffer),
			tables: map[string]struct{}{TableDeliveries: {}},
		}
		hub.register(c)
		return c
	}
	stalled := newClient("builder-1")
	reader := newClient("builder-2")
	require.Equal(t, 2, hub.ClientCount())

	change := Change{Table: TableDeliveries, Type: EventUpdate, RecordID: "d-1", Audience: []string{"builder-1", "builder-2"}}
	hub.Publish(change)
	<-reader.send
	assert.Equal(t, 2, hub.ClientCount(), "a queued message fits the buffer")

	hub.Publish(change)
	assert.Equal(t, 1, hub.ClientCount())

	// The stalled client's queue is closed after its buffered message.
	<-stalled.send
	_, open := <-stalled.send
	assert.False(t, open)

	msg := <-reader.send
	assert.Equal(t, "d-1", msg.Change.RecordID)
}
