package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("device not found")
	ErrCodeTaken     = errors.New("pairing code already taken")
	ErrCodeInvalid   = errors.New("invalid pairing code")
	ErrCodeExhausted = errors.New("pairing code generation exhausted")

	// ErrUnregisteredSession — запрос с сессии без register. По контракту
	// глушится (лог, без события клиенту).
	ErrUnregisteredSession = errors.New("session is not registered")
)

// Store — всё, что брокеру нужно от персистентного слоя.
// Реализации: адаптер над repo (gorm) и in-memory fallback без БД.
type Store interface {
	// RegisterOnline — upsert устройства: новое создаётся ONLINE,
	// существующее получает ONLINE + свежий heartbeat; peer и код не трогаются.
	RegisterOnline(ctx context.Context, id, role string) error

	// SetPairingCode перезаписывает код устройства; конфликт уникальности
	// кода — ErrCodeTaken.
	SetPairingCode(ctx context.Context, id, code string, expiresAt *time.Time) error

	// Redeem атомарно потребляет код и связывает обе стороны (PAIRED,
	// взаимные peer_id, код очищен). Ровно один успех при гонке на одном
	// коде; остальные — ErrCodeInvalid. Возвращает id держателя кода.
	Redeem(ctx context.Context, requesterID, code string) (string, error)

	// PeerOf — id текущего peer-а, "" если устройство не сопряжено.
	PeerOf(ctx context.Context, id string) (string, error)

	SetStatus(ctx context.Context, id, status string) error

	// AppendMessage пишет сообщение и возвращает серверный timestamp.
	AppendMessage(ctx context.Context, deviceID, from, content string) (time.Time, error)
}
