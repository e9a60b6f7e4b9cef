package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"simlink/internal/logs"
	"simlink/internal/models"
)

const (
	maxFrameBytes = 64 << 10
	writeTimeout  = 10 * time.Second
)

// Состояния сессии: CONNECTED → REGISTERED → CLOSED.
const (
	stateConnected = iota
	stateRegistered
	stateClosed
)

// Session — одно живое WebSocket-соединение. Не то же самое, что Device:
// устройство переживает переподключения, сессия — нет.
type Session struct {
	conn *websocket.Conn
	id   string

	// state/deviceID трогает только read-горутина сессии
	state    int
	deviceID string

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Send пишет событие в сокет; конкурентные DeliverTo сериализуются
// на writeMu.
func (s *Session) Send(ev Envelope) error {
	if s.closed.Load() {
		return errors.New("session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *Session) registered() bool { return s.state == stateRegistered }

// Hub принимает соединения и гоняет жизненный цикл сессий.
type Hub struct {
	store    Store
	reg      *Registry
	pairing  *PairingService
	relay    *RelayService
	upgrader websocket.Upgrader

	// явная таблица диспетчеризации client→server сообщений
	handlers map[string]func(ctx context.Context, sess *Session, payload json.RawMessage)
}

func NewHub(store Store, reg *Registry, pairing *PairingService, relay *RelayService) *Hub {
	h := &Hub{
		store:   store,
		reg:     reg,
		pairing: pairing,
		relay:   relay,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	h.handlers = map[string]func(context.Context, *Session, json.RawMessage){
		MsgRegister:     h.handleRegister,
		MsgGenerateCode: h.handleGenerateCode,
		MsgPairWithCode: h.handlePair,
		MsgForwardSMS:   h.handleForward,
	}
	return h
}

// HandleWS — GET /ws. Read loop живёт в горутине текущего запроса;
// блокирующие операции Store задерживают только эту сессию.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Logger.Warnf("ws upgrade failed: %v", err)
		return
	}

	sess := &Session{conn: conn, id: uuid.NewString(), state: stateConnected}
	logs.Logger.Infof("new connection: %s", sess.id)
	defer h.teardown(sess)

	conn.SetReadLimit(maxFrameBytes)
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Logger.Debugf("ws read error session=%s: %v", sess.id, err)
			}
			return
		}
		fn, ok := h.handlers[env.Type]
		if !ok {
			logs.Logger.Warnf("unknown message type %q session=%s", env.Type, sess.id)
			continue
		}
		fn(context.Background(), sess, env.Payload)
	}
}

// teardown: CLOSED. Если сессия была зарегистрирована — устройство
// помечается OFFLINE (peer и код не трогаются), запись из Registry
// удаляется. Незарегистрированная сессия закрывается без эффектов.
func (h *Hub) teardown(sess *Session) {
	sess.closed.Store(true)
	_ = sess.conn.Close()
	sess.state = stateClosed

	deviceID, ok := h.reg.LookupDevice(sess.id)
	if !ok {
		logs.Logger.Infof("session closed: %s", sess.id)
		return
	}
	if err := h.store.SetStatus(context.Background(), deviceID, models.DeviceStatusOffline); err != nil {
		logs.Logger.Errorf("mark offline failed device=%s: %v", deviceID, err)
	}
	h.reg.Remove(sess.id)
	logs.Logger.Infof("device %s disconnected (session %s)", deviceID, sess.id)
}

// -------- Handlers --------

// register: upsert в Store + привязка в Registry, единым блоком.
// Повторный register той же сессии — идемпотентная перерегистрация.
func (h *Hub) handleRegister(ctx context.Context, sess *Session, payload json.RawMessage) {
	var req RegisterRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logs.Logger.Warnf("bad register payload session=%s: %v", sess.id, err)
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		logs.Logger.Warnf("register without deviceId session=%s", sess.id)
		return
	}

	if err := h.store.RegisterOnline(ctx, deviceID, req.Role); err != nil {
		logs.Logger.Errorf("register failed device=%s: %v", deviceID, err)
		return
	}
	h.reg.Register(sess.id, deviceID, sess)
	sess.deviceID = deviceID
	sess.state = stateRegistered
	logs.Logger.Infof("device %s (%s) registered", deviceID, req.Role)
}

func (h *Hub) handleGenerateCode(ctx context.Context, sess *Session, payload json.RawMessage) {
	if !sess.registered() {
		logs.Logger.Warnf("generate_pairing_code from unregistered session %s", sess.id)
		return
	}
	var req GenerateCodeRequest
	_ = json.Unmarshal(payload, &req)
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = sess.deviceID
	}

	code, err := h.pairing.GenerateCode(ctx, deviceID)
	if err != nil {
		logs.Logger.Errorf("code generation failed device=%s: %v", deviceID, err)
		_ = sess.Send(mustEnvelope(EvtPairingError, PairingErrorEvent{
			Message: "could not generate pairing code",
		}))
		return
	}
	_ = sess.Send(mustEnvelope(EvtCodeGenerated, CodeGeneratedEvent{Code: code}))
}

func (h *Hub) handlePair(ctx context.Context, sess *Session, payload json.RawMessage) {
	if !sess.registered() {
		logs.Logger.Warnf("pair_with_code from unregistered session %s", sess.id)
		return
	}
	var req PairRequest
	_ = json.Unmarshal(payload, &req)
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = sess.deviceID
	}

	err := h.pairing.Redeem(ctx, deviceID, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, ErrCodeInvalid):
		_ = sess.Send(mustEnvelope(EvtPairingError, PairingErrorEvent{
			Message: "Invalid or expired code",
		}))
	default:
		logs.Logger.Errorf("pairing failed device=%s: %v", deviceID, err)
	}
}

func (h *Hub) handleForward(ctx context.Context, sess *Session, payload json.RawMessage) {
	var req ForwardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logs.Logger.Warnf("bad forward payload session=%s: %v", sess.id, err)
		return
	}
	if err := h.relay.Forward(ctx, sess.id, req.From, req.Content); err != nil {
		if errors.Is(err, ErrUnregisteredSession) {
			logs.Logger.Debugf("forward from unregistered session %s", sess.id)
			return
		}
		logs.Logger.Errorf("forward failed session=%s: %v", sess.id, err)
	}
}
