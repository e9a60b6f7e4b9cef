package models

import "time"

// Message — пересланное сообщение. DeviceID — устройство, выполнившее
// пересылку (не обязательно исходный отправитель SMS). Получатель не
// хранится: он определяется по peer_id в момент доставки.
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DeviceID   string    `gorm:"size:64;index;not null" json:"device_id"`
	SenderFrom string    `gorm:"size:255" json:"sender_from"`
	Content    string    `gorm:"type:text" json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}
