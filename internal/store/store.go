package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ivenlau/xtrans-s/internal/device"
)

type DeviceStore struct {
	DB *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{DB: db}
}

// Upsert records ident, updating the mutable fields of a device seen
// before. FirstSeen survives updates.
func (ds *DeviceStore) Upsert(ident device.Identity) error {
	now := device.NowMillis()
	dev := Device{
		DeviceID:  ident.DeviceID,
		Name:      ident.DeviceName,
		Type:      ident.DeviceType,
		Platform:  ident.Platform,
		Browser:   ident.Browser,
		IPAddress: ident.IPAddress,
		Online:    true,
		LastSeen:  now,
		FirstSeen: now,
	}
	return ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "type", "platform", "browser", "ip_address", "online", "last_seen",
		}),
	}).Create(&dev).Error
}

func (ds *DeviceStore) Get(deviceID string) (Device, error) {
	var dev Device
	err := ds.DB.First(&dev, "device_id = ?", deviceID).Error
	return dev, err
}

// List returns every known device, most recently seen first.
func (ds *DeviceStore) List() ([]Device, error) {
	var devices []Device
	err := ds.DB.Order("last_seen DESC").Find(&devices).Error
	return devices, err
}

func (ds *DeviceStore) SetOnline(deviceID string, online bool) error {
	updates := map[string]any{"online": online}
	if online {
		updates["last_seen"] = device.NowMillis()
	}
	return ds.DB.Model(&Device{}).Where("device_id = ?", deviceID).Updates(updates).Error
}

// MarkAllOffline clears presence at startup, before any peer has had a
// chance to handshake in.
func (ds *DeviceStore) MarkAllOffline() error {
	return ds.DB.Model(&Device{}).Where("online = ?", true).Update("online", false).Error
}

func (ds *DeviceStore) Remove(deviceID string) error {
	return ds.DB.Where("device_id = ?", deviceID).Delete(&Device{}).Error
}

type TransferStore struct {
	DB *gorm.DB
}

func NewTransferStore(db *gorm.DB) *TransferStore {
	return &TransferStore{DB: db}
}

// Record opens a history row for a transfer in flight and returns its id
// for the later Finish call.
func (ts *TransferStore) Record(fileID, deviceID, name, mimeType, direction string, size int64) (uint, error) {
	tr := Transfer{
		FileID:    fileID,
		DeviceID:  deviceID,
		Name:      name,
		MimeType:  mimeType,
		Size:      size,
		Direction: direction,
		Status:    StatusActive,
		StartedAt: device.NowMillis(),
	}
	if err := ts.DB.Create(&tr).Error; err != nil {
		return 0, err
	}
	return tr.ID, nil
}

// Finish closes a history row. transferErr marks the row failed and is
// stored alongside; nil marks it done.
func (ts *TransferStore) Finish(id uint, transferErr error) error {
	updates := map[string]any{
		"status":      StatusDone,
		"finished_at": device.NowMillis(),
	}
	if transferErr != nil {
		updates["status"] = StatusFailed
		updates["error"] = transferErr.Error()
	}
	return ts.DB.Model(&Transfer{}).Where("id = ?", id).Updates(updates).Error
}

// Recent returns the latest transfers, newest first.
func (ts *TransferStore) Recent(limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := ts.DB.Order("started_at DESC").Limit(limit).Find(&transfers).Error
	return transfers, err
}

func (ts *TransferStore) ByDevice(deviceID string) ([]Transfer, error) {
	var transfers []Transfer
	err := ts.DB.Where("device_id = ?", deviceID).Order("started_at DESC").Find(&transfers).Error
	return transfers, err
}
