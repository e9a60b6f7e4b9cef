package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simlink/internal/models"
)

func newTestBroker(t *testing.T) (*httptest.Server, Store) {
	t.Helper()
	store := NewMemStore()
	reg := NewRegistry()
	pairing := NewPairingService(store, reg, 10*time.Minute)
	relay := NewRelayService(store, reg, 4096)
	hub := NewHub(store, reg, pairing, relay)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return srv, store
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: typ, Payload: b}))
}

func recvEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func deviceStatus(t *testing.T, store Store, id string) string {
	t.Helper()
	ms := store.(*memStore)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	d, ok := ms.devices[id]
	if !ok {
		return ""
	}
	return d.Status
}

// Полный сценарий: регистрация двух устройств, сопряжение по коду,
// пересылка SMS живому peer-у.
func TestBrokerEndToEnd(t *testing.T) {
	srv, store := newTestBroker(t)

	ag := dialWS(t, srv)
	cl := dialWS(t, srv)

	sendMsg(t, ag, MsgRegister, RegisterRequest{DeviceID: "AG1", Role: "AGENT"})
	sendMsg(t, cl, MsgRegister, RegisterRequest{DeviceID: "CL1", Role: "CLIENT"})

	// CL1 запрашивает код
	sendMsg(t, cl, MsgGenerateCode, GenerateCodeRequest{DeviceID: "CL1"})
	ev := recvEvent(t, cl)
	require.Equal(t, EvtCodeGenerated, ev.Type)
	var codeEv CodeGeneratedEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &codeEv))
	require.Regexp(t, `^[A-Z0-9]{6}$`, codeEv.Code)

	// AG1 гасит код — pairing_success приходит обеим сторонам
	start := time.Now().UTC()
	sendMsg(t, ag, MsgPairWithCode, PairRequest{DeviceID: "AG1", Code: codeEv.Code})

	ev = recvEvent(t, ag)
	require.Equal(t, EvtPairingSuccess, ev.Type)
	assert.JSONEq(t, `{"peerId":"CL1"}`, string(ev.Payload))

	ev = recvEvent(t, cl)
	require.Equal(t, EvtPairingSuccess, ev.Type)
	assert.JSONEq(t, `{"peerId":"AG1"}`, string(ev.Payload))

	// AG1 пересылает SMS — CL1 получает new_sms
	sendMsg(t, ag, MsgForwardSMS, ForwardRequest{From: "+5511999", Content: "hello"})
	ev = recvEvent(t, cl)
	require.Equal(t, EvtNewSMS, ev.Type)
	var sms NewSMSEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &sms))
	assert.Equal(t, "+5511999", sms.From)
	assert.Equal(t, "hello", sms.Content)
	assert.False(t, sms.Timestamp.Before(start))

	assert.Equal(t, models.DeviceStatusPaired, deviceStatus(t, store, "AG1"))
	assert.Equal(t, models.DeviceStatusPaired, deviceStatus(t, store, "CL1"))
}

func TestBrokerInvalidCode(t *testing.T) {
	srv, _ := newTestBroker(t)
	ag := dialWS(t, srv)

	sendMsg(t, ag, MsgRegister, RegisterRequest{DeviceID: "AG1", Role: "AGENT"})
	sendMsg(t, ag, MsgPairWithCode, PairRequest{DeviceID: "AG1", Code: "NOPE99"})

	ev := recvEvent(t, ag)
	require.Equal(t, EvtPairingError, ev.Type)
	var perr PairingErrorEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &perr))
	assert.Equal(t, "Invalid or expired code", perr.Message)
}

func TestBrokerUnknownMessageIgnored(t *testing.T) {
	srv, _ := newTestBroker(t)
	cl := dialWS(t, srv)

	sendMsg(t, cl, MsgRegister, RegisterRequest{DeviceID: "CL1", Role: "CLIENT"})
	sendMsg(t, cl, "definitely_not_a_thing", map[string]string{"x": "y"})

	// сессия жива: следующий запрос обслуживается как обычно
	sendMsg(t, cl, MsgGenerateCode, GenerateCodeRequest{DeviceID: "CL1"})
	ev := recvEvent(t, cl)
	assert.Equal(t, EvtCodeGenerated, ev.Type)
}

func TestBrokerForwardWithoutPeerIsSilent(t *testing.T) {
	srv, store := newTestBroker(t)
	ag := dialWS(t, srv)

	sendMsg(t, ag, MsgRegister, RegisterRequest{DeviceID: "AG1", Role: "AGENT"})
	sendMsg(t, ag, MsgForwardSMS, ForwardRequest{From: "+5511999", Content: "dropped"})

	// read loop обрабатывает запросы последовательно: когда пришёл ответ на
	// generate_pairing_code, forward уже гарантированно обработан
	sendMsg(t, ag, MsgGenerateCode, GenerateCodeRequest{DeviceID: "AG1"})
	ev := recvEvent(t, ag)
	require.Equal(t, EvtCodeGenerated, ev.Type)

	ms := store.(*memStore)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Empty(t, ms.messages)
}

func TestBrokerDisconnectMarksOffline(t *testing.T) {
	srv, store := newTestBroker(t)

	ag := dialWS(t, srv)
	cl := dialWS(t, srv)
	sendMsg(t, ag, MsgRegister, RegisterRequest{DeviceID: "AG1", Role: "AGENT"})
	sendMsg(t, cl, MsgRegister, RegisterRequest{DeviceID: "CL1", Role: "CLIENT"})

	sendMsg(t, cl, MsgGenerateCode, GenerateCodeRequest{DeviceID: "CL1"})
	var codeEv CodeGeneratedEvent
	ev := recvEvent(t, cl)
	require.NoError(t, json.Unmarshal(ev.Payload, &codeEv))
	sendMsg(t, ag, MsgPairWithCode, PairRequest{DeviceID: "AG1", Code: codeEv.Code})
	require.Equal(t, EvtPairingSuccess, recvEvent(t, ag).Type)

	// разрыв транспорта: OFFLINE, peer сохраняется
	require.NoError(t, ag.Close())
	require.Eventually(t, func() bool {
		return deviceStatus(t, store, "AG1") == models.DeviceStatusOffline
	}, 3*time.Second, 10*time.Millisecond)

	ms := store.(*memStore)
	ms.mu.Lock()
	peer := ms.devices["AG1"].PeerID
	ms.mu.Unlock()
	assert.Equal(t, "CL1", peer)

	// повторная регистрация возвращает ONLINE, peer на месте
	ag2 := dialWS(t, srv)
	sendMsg(t, ag2, MsgRegister, RegisterRequest{DeviceID: "AG1", Role: "AGENT"})
	require.Eventually(t, func() bool {
		return deviceStatus(t, store, "AG1") == models.DeviceStatusOnline
	}, 3*time.Second, 10*time.Millisecond)
	ms.mu.Lock()
	peer = ms.devices["AG1"].PeerID
	ms.mu.Unlock()
	assert.Equal(t, "CL1", peer)
}
