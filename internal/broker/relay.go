package broker

import (
	"context"

	"simlink/internal/logs"
)

// RelayService пересылает сообщение текущему peer-у отправителя.
type RelayService struct {
	store      Store
	reg        *Registry
	maxContent int
}

func NewRelayService(store Store, reg *Registry, maxContent int) *RelayService {
	return &RelayService{store: store, reg: reg, maxContent: maxContent}
}

// Forward: сессия → устройство → peer → persist → push.
// Порядок жёсткий: сначала запись в Store, потом live-доставка; ошибка
// доставки запись не откатывает. Без peer-а сообщение просто
// отбрасывается — буфера «до сопряжения» нет.
func (r *RelayService) Forward(ctx context.Context, sessionID, from, content string) error {
	deviceID, ok := r.reg.LookupDevice(sessionID)
	if !ok {
		return ErrUnregisteredSession
	}
	if r.maxContent > 0 && len(content) > r.maxContent {
		logs.Logger.Warnf("forward dropped: content %dB over limit device=%s", len(content), deviceID)
		return nil
	}

	peerID, err := r.store.PeerOf(ctx, deviceID)
	if err != nil {
		return err
	}
	if peerID == "" {
		return nil
	}

	ts, err := r.store.AppendMessage(ctx, deviceID, from, content)
	if err != nil {
		return err
	}

	delivered := r.reg.DeliverTo(peerID, mustEnvelope(EvtNewSMS, NewSMSEvent{
		From:      from,
		Content:   content,
		Timestamp: ts,
	}))
	logs.Logger.Infof("forwarded sms from %s to %s (live=%d)", deviceID, peerID, delivered)
	return nil
}
