package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicholastmosher/easycom-sub000/internal/auth"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// dialWS starts an httptest server for env and opens a websocket client.
// The hub is subscribed to the service so bus events reach the client.
func dialWS(t *testing.T, env *testEnv, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	unsubscribe := env.service.Subscribe(env.srv.hub)
	t.Cleanup(unsubscribe)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// readMessage reads one message with a deadline.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

// subscribe sends a subscribe message and consumes its response.
func subscribe(t *testing.T, conn *websocket.Conn, payload WSSubscribePayload) {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: payload}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v, want response", msg)
	}
}

// payloadAs re-decodes a generic payload.
func payloadAs(t *testing.T, msg WSMessage, v any) {
	t.Helper()
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
}

func TestWebSocketStatusEvents(t *testing.T) {
	env := testServer(t)
	conn, _, err := dialWS(t, env, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	subscribe(t, conn, WSSubscribePayload{Channels: []string{ChannelConnectionStatus}})

	// Data is filtered out; only the status event arrives.
	env.bus.Publish(statusbus.NewDataEvent("c1", []byte("ignored")))
	env.bus.Publish(statusbus.NewEvent("c1", statusbus.Connected))

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelConnectionStatus {
		t.Fatalf("message = %+v, want connection.status event", msg)
	}
	var ev StatusEvent
	payloadAs(t, msg, &ev)
	if ev.ConnectionID != "c1" || ev.Transition != string(statusbus.Connected) {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocketDataEvents(t *testing.T) {
	env := testServer(t)
	conn, _, err := dialWS(t, env, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	subscribe(t, conn, WSSubscribePayload{
		Channels:      []string{ChannelConnectionData},
		ConnectionIDs: []string{"c2"},
	})

	env.bus.Publish(statusbus.NewDataEvent("c1", []byte("other")))
	env.bus.Publish(statusbus.NewDataEvent("c2", []byte("ping")))

	msg := readMessage(t, conn)
	if msg.EventType != ChannelConnectionData {
		t.Fatalf("event_type = %q, want %q", msg.EventType, ChannelConnectionData)
	}
	var ev DataEvent
	payloadAs(t, msg, &ev)
	if ev.ConnectionID != "c2" || string(ev.Data) != "ping" || ev.Bytes != 4 {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocketProtocolErrors(t *testing.T) {
	env := testServer(t)
	conn, _, err := dialWS(t, env, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply type = %q, want error", msg.Type)
	}

	if err := conn.WriteJSON(WSMessage{Type: "launch", ID: "x"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError || msg.ID != "x" {
		t.Errorf("unknown type reply = %+v, want error", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Errorf("ping reply = %+v, want pong", msg)
	}

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s",
		Payload: WSSubscribePayload{Channels: []string{"device.state"}},
	}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("unknown channel reply type = %q, want error first", msg.Type)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeResponse {
		t.Errorf("unknown channel second reply type = %q, want response", msg.Type)
	}
}

func TestWebSocketAuth(t *testing.T) {
	env := testServer(t, withAuth)

	_, resp, err := dialWS(t, env, "")
	if err == nil {
		t.Fatal("Dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}

	tok := strings.TrimPrefix(token(t, auth.RoleOperator), "Bearer ")
	conn, _, err := dialWS(t, env, "?access_token="+tok)
	if err != nil {
		t.Fatalf("Dial with token: %v", err)
	}
	waitFor(t, "client registration", func() bool { return env.srv.hub.ClientCount() == 1 })
	subscribe(t, conn, WSSubscribePayload{Channels: []string{ChannelConnectionStatus}})
}
