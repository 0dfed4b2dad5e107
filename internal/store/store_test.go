package store_test

import (
	"errors"
	"testing"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/store"
)

func setupTestDB(t *testing.T) (*store.DeviceStore, *store.TransferStore) {
	t.Helper()
	db, err := store.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.NewDeviceStore(db), store.NewTransferStore(db)
}

func testIdentity(id, name string) device.Identity {
	return device.Identity{
		DeviceID:   id,
		DeviceName: name,
		DeviceType: "desktop",
		Platform:   "linux",
		Browser:    "none",
		IPAddress:  "192.168.1.20",
	}
}

func TestDeviceStore_Upsert(t *testing.T) {
	ds, _ := setupTestDB(t)

	if err := ds.Upsert(testIdentity("dev-1", "alpha")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	dev, err := ds.Get("dev-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if dev.Name != "alpha" {
		t.Errorf("expected name alpha, got %q", dev.Name)
	}
	if !dev.Online {
		t.Error("expected upserted device to be online")
	}
	if dev.FirstSeen == 0 || dev.LastSeen == 0 {
		t.Error("expected seen timestamps to be set")
	}
}

func TestDeviceStore_Upsert_UpdatesExisting(t *testing.T) {
	ds, _ := setupTestDB(t)

	_ = ds.Upsert(testIdentity("dev-1", "alpha"))
	first, _ := ds.Get("dev-1")

	if err := ds.Upsert(testIdentity("dev-1", "alpha-renamed")); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	devices, err := ds.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device after re-upsert, got %d", len(devices))
	}
	if devices[0].Name != "alpha-renamed" {
		t.Errorf("expected updated name, got %q", devices[0].Name)
	}
	if devices[0].FirstSeen != first.FirstSeen {
		t.Error("expected FirstSeen to survive the update")
	}
}

func TestDeviceStore_MarkAllOffline(t *testing.T) {
	ds, _ := setupTestDB(t)

	_ = ds.Upsert(testIdentity("dev-1", "alpha"))
	_ = ds.Upsert(testIdentity("dev-2", "beta"))

	if err := ds.MarkAllOffline(); err != nil {
		t.Fatalf("MarkAllOffline failed: %v", err)
	}

	devices, _ := ds.List()
	for _, dev := range devices {
		if dev.Online {
			t.Errorf("expected %s offline, still online", dev.DeviceID)
		}
	}
}

func TestDeviceStore_SetOnline(t *testing.T) {
	ds, _ := setupTestDB(t)

	_ = ds.Upsert(testIdentity("dev-1", "alpha"))
	_ = ds.MarkAllOffline()

	if err := ds.SetOnline("dev-1", true); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	dev, _ := ds.Get("dev-1")
	if !dev.Online {
		t.Error("expected device back online")
	}
}

func TestDeviceStore_Remove(t *testing.T) {
	ds, _ := setupTestDB(t)

	_ = ds.Upsert(testIdentity("dev-1", "alpha"))
	if err := ds.Remove("dev-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := ds.Get("dev-1"); err == nil {
		t.Error("expected Get to fail after Remove")
	}
}

func TestTransferStore_RecordAndFinish(t *testing.T) {
	_, ts := setupTestDB(t)

	id, err := ts.Record("f1", "dev-1", "report.pdf", "application/pdf", store.DirectionSend, 4096)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	transfers, err := ts.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(transfers))
	}
	if transfers[0].Status != store.StatusActive {
		t.Errorf("expected active status, got %q", transfers[0].Status)
	}

	if err := ts.Finish(id, nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	transfers, _ = ts.Recent(10)
	if transfers[0].Status != store.StatusDone {
		t.Errorf("expected done status, got %q", transfers[0].Status)
	}
	if transfers[0].FinishedAt == 0 {
		t.Error("expected FinishedAt to be set")
	}
}

func TestTransferStore_FinishWithError(t *testing.T) {
	_, ts := setupTestDB(t)

	id, _ := ts.Record("f1", "dev-1", "a.bin", "application/octet-stream", store.DirectionReceive, 100)
	if err := ts.Finish(id, errors.New("peer went away")); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	transfers, _ := ts.Recent(10)
	if transfers[0].Status != store.StatusFailed {
		t.Errorf("expected failed status, got %q", transfers[0].Status)
	}
	if transfers[0].Error != "peer went away" {
		t.Errorf("expected error text recorded, got %q", transfers[0].Error)
	}
}

func TestTransferStore_ByDevice(t *testing.T) {
	_, ts := setupTestDB(t)

	_, _ = ts.Record("f1", "dev-1", "a.bin", "", store.DirectionSend, 10)
	_, _ = ts.Record("f2", "dev-2", "b.bin", "", store.DirectionSend, 20)
	_, _ = ts.Record("f3", "dev-1", "c.bin", "", store.DirectionReceive, 30)

	transfers, err := ts.ByDevice("dev-1")
	if err != nil {
		t.Fatalf("ByDevice failed: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers for dev-1, got %d", len(transfers))
	}
	for _, tr := range transfers {
		if tr.DeviceID != "dev-1" {
			t.Errorf("expected only dev-1 rows, got %s", tr.DeviceID)
		}
	}
}
