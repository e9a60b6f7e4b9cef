package server

import (
	"context"
	"errors"
	"time"

	"simlink/internal/broker"
	"simlink/internal/repo"
)

// Адаптер, реализующий интерфейс broker.Store поверх repo-хранилищ.
type storeAdapter struct {
	ds *repo.DeviceStore
	ms *repo.MessageStore
}

func newStoreAdapter(ds *repo.DeviceStore, ms *repo.MessageStore) broker.Store {
	return &storeAdapter{ds: ds, ms: ms}
}

func (a *storeAdapter) RegisterOnline(ctx context.Context, id, role string) error {
	_, err := a.ds.RegisterOnline(ctx, id, role)
	return err
}

func (a *storeAdapter) SetPairingCode(ctx context.Context, id, code string, expiresAt *time.Time) error {
	return mapErr(a.ds.SetPairingCode(ctx, id, code, expiresAt))
}

func (a *storeAdapter) Redeem(ctx context.Context, requesterID, code string) (string, error) {
	holderID, err := a.ds.Redeem(ctx, requesterID, code)
	return holderID, mapErr(err)
}

func (a *storeAdapter) PeerOf(ctx context.Context, id string) (string, error) {
	return a.ds.PeerOf(ctx, id)
}

func (a *storeAdapter) SetStatus(ctx context.Context, id, status string) error {
	return a.ds.SetStatus(ctx, id, status)
}

func (a *storeAdapter) AppendMessage(ctx context.Context, deviceID, from, content string) (time.Time, error) {
	m, err := a.ms.Append(ctx, deviceID, from, content)
	if err != nil {
		return time.Time{}, err
	}
	return m.Timestamp, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrCodeTaken):
		return broker.ErrCodeTaken
	case errors.Is(err, repo.ErrCodeInvalid):
		return broker.ErrCodeInvalid
	case errors.Is(err, repo.ErrNotFound):
		return broker.ErrNotFound
	default:
		return err
	}
}
