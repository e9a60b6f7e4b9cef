package broker

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"simlink/internal/logs"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
	codeRetries  = 5
)

// PairingService выдаёт и гасит коды сопряжения.
type PairingService struct {
	store   Store
	reg     *Registry
	codeTTL time.Duration // 0 — код без истечения
}

func NewPairingService(store Store, reg *Registry, codeTTL time.Duration) *PairingService {
	return &PairingService{store: store, reg: reg, codeTTL: codeTTL}
}

// GenerateCode вешает свежий код на устройство и возвращает его.
// Коллизия уникальности — перегенерация, не больше codeRetries попыток.
// Код не является секретом — защита только от случайного ввода.
func (p *PairingService) GenerateCode(ctx context.Context, deviceID string) (string, error) {
	var expires *time.Time
	if p.codeTTL > 0 {
		t := time.Now().UTC().Add(p.codeTTL)
		expires = &t
	}
	for i := 0; i < codeRetries; i++ {
		code, err := newCode(codeLength)
		if err != nil {
			return "", err
		}
		err = p.store.SetPairingCode(ctx, deviceID, code, expires)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", ErrCodeExhausted
}

// Redeem гасит код от имени requesterID и связывает обе стороны.
// pairing_success уходит обоим device id через Registry — если сторона
// offline, событие просто не доставится (бэкфилла нет).
func (p *PairingService) Redeem(ctx context.Context, requesterID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ErrCodeInvalid
	}
	holderID, err := p.store.Redeem(ctx, requesterID, code)
	if err != nil {
		return err
	}

	logs.Logger.Infof("paired %s with %s", requesterID, holderID)
	p.reg.DeliverTo(requesterID, mustEnvelope(EvtPairingSuccess, PairingSuccessEvent{PeerID: holderID}))
	p.reg.DeliverTo(holderID, mustEnvelope(EvtPairingSuccess, PairingSuccessEvent{PeerID: requesterID}))
	return nil
}

// newCode — codeLength символов из codeAlphabet, crypto/rand.
// Верхний регистр, чтобы код диктовался без двусмысленности.
func newCode(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
