// Package store persists the device directory and transfer history in
// sqlite. The connection manager writes through it when configured; the
// CLI reads it for listings.
package store

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Device mirrors the identity a peer presented in its handshake, plus
// presence bookkeeping.
type Device struct {
	DeviceID  string `gorm:"primaryKey"`
	Name      string
	Type      string
	Platform  string
	Browser   string
	IPAddress string
	Online    bool
	LastSeen  int64
	FirstSeen int64
}

// Transfer directions and terminal statuses.
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"

	StatusActive = "active"
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Transfer is one file moved to or from a device.
type Transfer struct {
	ID         uint   `gorm:"primaryKey"`
	FileID     string `gorm:"index"`
	DeviceID   string `gorm:"index"`
	Name       string
	MimeType   string
	Size       int64
	Direction  string
	Status     string
	Error      string
	StartedAt  int64
	FinishedAt int64
}

func NewDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(&Device{}, &Transfer{}); err != nil {
		return nil, err
	}
	return db, nil
}
