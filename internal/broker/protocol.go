package broker

import (
	"encoding/json"
	"time"
)

// Envelope — рамка всех сообщений по WebSocket в обе стороны.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Клиент → сервер. Закрытое множество; неизвестный type логируется
// и игнорируется, сессия не рвётся.
const (
	MsgRegister     = "register"
	MsgGenerateCode = "generate_pairing_code"
	MsgPairWithCode = "pair_with_code"
	MsgForwardSMS   = "forward_sms"
)

// Сервер → клиент.
const (
	EvtCodeGenerated  = "pairing_code_generated"
	EvtPairingSuccess = "pairing_success"
	EvtPairingError   = "pairing_error"
	EvtNewSMS         = "new_sms"
)

type RegisterRequest struct {
	DeviceID string `json:"deviceId"`
	Role     string `json:"role"`
}

type GenerateCodeRequest struct {
	DeviceID string `json:"deviceId"`
}

type PairRequest struct {
	DeviceID string `json:"deviceId"`
	Code     string `json:"code"`
}

type ForwardRequest struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

type CodeGeneratedEvent struct {
	Code string `json:"code"`
}

type PairingSuccessEvent struct {
	PeerID string `json:"peerId"`
}

type PairingErrorEvent struct {
	Message string `json:"message"`
}

type NewSMSEvent struct {
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func mustEnvelope(typ string, v any) Envelope {
	b, _ := json.Marshal(v)
	return Envelope{Type: typ, Payload: b}
}
