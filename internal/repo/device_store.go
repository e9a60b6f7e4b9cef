package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"simlink/internal/models"
)

var (
	ErrNotFound    = errors.New("device not found")
	ErrCodeTaken   = errors.New("pairing code already taken")
	ErrCodeInvalid = errors.New("invalid pairing code")
)

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

// -------- Регистрация (register) --------

// RegisterOnline — upsert устройства при регистрации сессии.
// Новое устройство создаётся со статусом ONLINE; существующее получает
// ONLINE + свежий heartbeat, peer_id и pairing_code не трогаются.
func (s *DeviceStore) RegisterOnline(ctx context.Context, id, role string) (*models.Device, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != models.RoleClient {
		role = models.RoleAgent
	}
	now := time.Now().UTC()

	var d models.Device
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		d = models.Device{
			ID:            id,
			Role:          role,
			Status:        models.DeviceStatusOnline,
			LastHeartbeat: now,
		}
		if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
			return nil, err
		}
		return &d, nil
	}
	if err != nil {
		return nil, err
	}

	d.Status = models.DeviceStatusOnline
	d.LastHeartbeat = now
	if err := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         models.DeviceStatusOnline,
			"last_heartbeat": now,
		}).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// -------- Коды сопряжения --------

// SetPairingCode вешает код на устройство (старый код перезаписывается).
// Конфликт уникальности отдаётся как ErrCodeTaken — вызывающий перегенерирует.
func (s *DeviceStore) SetPairingCode(ctx context.Context, id, code string, expiresAt *time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pairing_code":    code,
			"code_expires_at": expiresAt,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrCodeTaken
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Redeem выполняет сопряжение по коду в одной транзакции.
// Код потребляется условным UPDATE (id + pairing_code): при гонке двух
// реквестеров ровно один увидит RowsAffected=1, второй — ErrCodeInvalid.
// Прежние peer-ы обеих сторон отвязываются — симметрия peer_id
// сохраняется глобально.
func (s *DeviceStore) Redeem(ctx context.Context, requesterID, code string) (string, error) {
	var holderID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holder models.Device
		if err := tx.Where("pairing_code = ?", code).First(&holder).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeInvalid
			}
			return err
		}
		if holder.ID == requesterID {
			return ErrCodeInvalid // самосопряжение запрещено
		}
		if holder.CodeExpiresAt != nil && holder.CodeExpiresAt.Before(time.Now().UTC()) {
			return ErrCodeInvalid
		}

		var requester models.Device
		if err := tx.Where("id = ?", requesterID).First(&requester).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// потребляем код — ровно один победитель
		res := tx.Model(&models.Device{}).
			Where("id = ? AND pairing_code = ?", holder.ID, code).
			Updates(map[string]any{
				"pairing_code":    nil,
				"code_expires_at": nil,
				"peer_id":         requesterID,
				"status":          models.DeviceStatusPaired,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeInvalid
		}

		// отвязываем прежних peer-ов (re-pairing)
		if err := detachOldPeer(tx, &requester, holder.ID); err != nil {
			return err
		}
		if err := detachOldPeer(tx, &holder, requesterID); err != nil {
			return err
		}

		if err := tx.Model(&models.Device{}).
			Where("id = ?", requesterID).
			Updates(map[string]any{
				"pairing_code":    nil,
				"code_expires_at": nil,
				"peer_id":         holder.ID,
				"status":          models.DeviceStatusPaired,
			}).Error; err != nil {
			return err
		}

		holderID = holder.ID
		return nil
	})
	return holderID, err
}

// detachOldPeer снимает обратную ссылку у прежнего peer-а устройства d.
// OFFLINE-статус прежнего peer-а сохраняется, PAIRED понижается до ONLINE.
func detachOldPeer(tx *gorm.DB, d *models.Device, newPeerID string) error {
	if d.PeerID == nil || *d.PeerID == newPeerID {
		return nil
	}
	res := tx.Model(&models.Device{}).
		Where("id = ? AND peer_id = ?", *d.PeerID, d.ID).
		Update("peer_id", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		if err := tx.Model(&models.Device{}).
			Where("id = ? AND status = ?", *d.PeerID, models.DeviceStatusPaired).
			Update("status", models.DeviceStatusOnline).Error; err != nil {
			return err
		}
	}
	return nil
}

// -------- Запросы --------

func (s *DeviceStore) GetByID(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &d, err
}

// PeerOf возвращает id текущего peer-а устройства, "" если его нет.
func (s *DeviceStore) PeerOf(ctx context.Context, id string) (string, error) {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if d == nil || d.PeerID == nil {
		return "", nil
	}
	return *d.PeerID, nil
}

func (s *DeviceStore) SetStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *DeviceStore) List(ctx context.Context, limit int) ([]models.Device, error) {
	var rows []models.Device
	err := s.db.WithContext(ctx).Order("updated_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}
