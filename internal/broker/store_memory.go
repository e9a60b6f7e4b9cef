package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"simlink/internal/models"
)

// In-memory реализация Store — режим без БД (database.driver = "").
// История сообщений живёт до рестарта процесса.

type memDevice struct {
	ID            string
	Role          string
	Status        string
	PairingCode   string
	CodeExpiresAt *time.Time
	PeerID        string
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

type memMessage struct {
	ID         uint
	DeviceID   string
	SenderFrom string
	Content    string
	Timestamp  time.Time
}

type memStore struct {
	mu       sync.Mutex
	devices  map[string]*memDevice
	byCode   map[string]string // code → deviceID
	messages []memMessage
	nextID   uint
}

func NewMemStore() Store {
	return &memStore{devices: map[string]*memDevice{}, byCode: map[string]string{}, nextID: 1}
}

func (m *memStore) RegisterOnline(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if d, ok := m.devices[id]; ok {
		d.Status = models.DeviceStatusOnline
		d.LastHeartbeat = now
		return nil
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != models.RoleClient {
		role = models.RoleAgent
	}
	m.devices[id] = &memDevice{
		ID:            id,
		Role:          role,
		Status:        models.DeviceStatusOnline,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	return nil
}

func (m *memStore) SetPairingCode(_ context.Context, id, code string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	if holder, ok := m.byCode[code]; ok && holder != id {
		return ErrCodeTaken
	}
	if d.PairingCode != "" {
		delete(m.byCode, d.PairingCode)
	}
	d.PairingCode = code
	d.CodeExpiresAt = expiresAt
	m.byCode[code] = id
	return nil
}

func (m *memStore) Redeem(_ context.Context, requesterID, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	holderID, ok := m.byCode[code]
	if !ok || holderID == requesterID {
		return "", ErrCodeInvalid
	}
	holder := m.devices[holderID]
	if holder.CodeExpiresAt != nil && holder.CodeExpiresAt.Before(time.Now().UTC()) {
		return "", ErrCodeInvalid
	}
	requester, ok := m.devices[requesterID]
	if !ok {
		return "", ErrNotFound
	}

	// отвязываем прежних peer-ов обеих сторон
	m.detachLocked(requester, holderID)
	m.detachLocked(holder, requesterID)

	delete(m.byCode, code)
	holder.PairingCode = ""
	holder.CodeExpiresAt = nil
	holder.PeerID = requesterID
	holder.Status = models.DeviceStatusPaired

	if requester.PairingCode != "" {
		delete(m.byCode, requester.PairingCode)
		requester.PairingCode = ""
		requester.CodeExpiresAt = nil
	}
	requester.PeerID = holderID
	requester.Status = models.DeviceStatusPaired

	return holderID, nil
}

func (m *memStore) detachLocked(d *memDevice, newPeerID string) {
	if d.PeerID == "" || d.PeerID == newPeerID {
		return
	}
	if old, ok := m.devices[d.PeerID]; ok && old.PeerID == d.ID {
		old.PeerID = ""
		if old.Status == models.DeviceStatusPaired {
			old.Status = models.DeviceStatusOnline
		}
	}
}

func (m *memStore) PeerOf(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return "", nil
	}
	return d.PeerID, nil
}

func (m *memStore) SetStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		d.Status = status
	}
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, deviceID, from, content string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.messages = append(m.messages, memMessage{
		ID:         m.nextID,
		DeviceID:   deviceID,
		SenderFrom: from,
		Content:    content,
		Timestamp:  now,
	})
	m.nextID++
	return now, nil
}
