package broker

import "sync"

// Sender — живой транспорт сессии; реализуется *Session.
type Sender interface {
	Send(ev Envelope) error
}

// Registry — карта живых сессий: session → device и device → сессии.
// Единственное место, знающее, какие устройства достижимы прямо сейчас.
// Наружу — только четыре операции; сама карта не отдаётся.
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]*registryEntry
	byDevice  map[string]map[string]Sender // deviceID → sessionID → sender
}

type registryEntry struct {
	deviceID string
	sender   Sender
}

func NewRegistry() *Registry {
	return &Registry{
		bySession: map[string]*registryEntry{},
		byDevice:  map[string]map[string]Sender{},
	}
}

// Register привязывает сессию к устройству; прежняя привязка этой сессии
// перезаписывается. Идемпотентно, ошибок нет.
func (r *Registry) Register(sessionID, deviceID string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sessionID]; ok {
		r.dropLocked(sessionID, prev.deviceID)
	}
	r.bySession[sessionID] = &registryEntry{deviceID: deviceID, sender: s}
	bucket, ok := r.byDevice[deviceID]
	if !ok {
		bucket = map[string]Sender{}
		r.byDevice[deviceID] = bucket
	}
	bucket[sessionID] = s
}

// LookupDevice — "кто эта сессия"; используется на disconnect и forward.
func (r *Registry) LookupDevice(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return "", false
	}
	return e.deviceID, true
}

// Remove снимает привязку; безопасно для отсутствующей сессии.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bySession[sessionID]; ok {
		r.dropLocked(sessionID, e.deviceID)
	}
}

func (r *Registry) dropLocked(sessionID, deviceID string) {
	delete(r.bySession, sessionID)
	if bucket, ok := r.byDevice[deviceID]; ok {
		delete(bucket, sessionID)
		if len(bucket) == 0 {
			delete(r.byDevice, deviceID)
		}
	}
}

// DeliverTo толкает событие во все живые сессии устройства (обычно 0 или 1,
// но при reconnect до teardown их может быть две). Fire-and-forget: без
// подтверждений, без очереди для offline. Возвращает число сессий,
// принявших запись.
func (r *Registry) DeliverTo(deviceID string, ev Envelope) int {
	r.mu.RLock()
	senders := make([]Sender, 0, 1)
	for _, s := range r.byDevice[deviceID] {
		senders = append(senders, s)
	}
	r.mu.RUnlock()

	n := 0
	for _, s := range senders {
		if err := s.Send(ev); err == nil {
			n++
		}
	}
	return n
}
