package models

import "time"

// Статусы устройства: DISCONNECTED → ONLINE → PAIRED → OFFLINE.
// Разрыв транспорта переводит ONLINE/PAIRED в OFFLINE, но peer_id и
// pairing_code при этом не трогаются.
const (
	DeviceStatusDisconnected = "DISCONNECTED"
	DeviceStatusOnline       = "ONLINE"
	DeviceStatusPaired       = "PAIRED"
	DeviceStatusOffline      = "OFFLINE"
)

// Роли устройства (информативно — relay симметричен).
const (
	RoleAgent  = "AGENT"
	RoleClient = "CLIENT"
)

// Device — зарегистрированное устройство. ID генерируется клиентом,
// стабилен между переподключениями.
type Device struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Role string `gorm:"size:16;default:AGENT" json:"role"`

	// PairingCode установлен только пока устройство ждёт сопряжения;
	// уникален среди non-null значений. Несовместим с PeerID.
	PairingCode   *string    `gorm:"uniqueIndex;size:16" json:"pairing_code,omitempty"`
	CodeExpiresAt *time.Time `json:"code_expires_at,omitempty"`

	// PeerID симметричен: если A.PeerID = B, то B.PeerID = A.
	PeerID *string `gorm:"size:64;index" json:"peer_id,omitempty"`

	Status        string    `gorm:"size:16;default:DISCONNECTED" json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
