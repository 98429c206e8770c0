package device

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/config"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/database"
	"github.com/nicholastmosher/easycom-sub000/migrations"
)

// setupTestDB opens a database with the production schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func TestSQLiteRepositorySaveAndList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d, _ := New("Bench Controller")
	tcpConn := newTCP(t, "tcp", 9000)
	bt, _ := connection.ParseBluetoothAddress("00:11:22:33:44:55")
	btConn, _ := connection.New("serial", bt)
	d.AddConnection(tcpConn)
	d.AddConnection(btConn)

	if err := repo.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	records, err := repo.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListDevices() = %d records, want 1", len(records))
	}

	rec := records[0]
	if rec.ID != d.ID() || rec.Name != "Bench Controller" || rec.Slug != "bench-controller" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Connections) != 2 {
		t.Fatalf("connections = %d, want 2", len(rec.Connections))
	}
	if rec.Connections[0].ID != tcpConn.ID() || rec.Connections[1].ID != btConn.ID() {
		t.Error("connection order not preserved")
	}
	if rec.Connections[1].Kind != connection.KindBluetooth || rec.Connections[1].Address != "00:11:22:33:44:55" {
		t.Errorf("bluetooth connection = %+v", rec.Connections[1])
	}

	restored, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord() error = %v", err)
	}
	if restored.Len() != 2 {
		t.Errorf("restored Len = %d", restored.Len())
	}
}

func TestSQLiteRepositorySaveReplacesConnections(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d, _ := New("rover")
	a, b := newTCP(t, "a", 1), newTCP(t, "b", 2)
	d.AddConnection(a)
	d.AddConnection(b)
	if err := repo.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	d.RemoveConnection(a)
	d.SetName("rover two")
	if err := repo.SaveDevice(ctx, d); err != nil {
		t.Fatalf("second SaveDevice() error = %v", err)
	}

	records, _ := repo.ListDevices(ctx)
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].Name != "rover two" {
		t.Errorf("Name = %q", records[0].Name)
	}
	if len(records[0].Connections) != 1 || records[0].Connections[0].ID != b.ID() {
		t.Errorf("connections = %+v", records[0].Connections)
	}
}

func TestSQLiteRepositoryMovesConnection(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d1, _ := New("one")
	d2, _ := New("two")
	c := newTCP(t, "link", 1)
	d1.AddConnection(c)
	repo.SaveDevice(ctx, d1)

	d1.RemoveConnection(c)
	d2.AddConnection(c)
	if err := repo.SaveDevice(ctx, d2); err != nil {
		t.Fatalf("SaveDevice(d2) error = %v", err)
	}

	records, _ := repo.ListDevices(ctx)
	byID := make(map[string]Record)
	for _, r := range records {
		byID[r.ID] = r
	}
	if len(byID[d1.ID()].Connections) != 0 {
		t.Error("connection still listed under old device")
	}
	if len(byID[d2.ID()].Connections) != 1 {
		t.Error("connection not listed under new device")
	}
}

func TestSQLiteRepositoryDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d, _ := New("rover")
	d.AddConnection(newTCP(t, "a", 1))
	repo.SaveDevice(ctx, d)

	if err := repo.DeleteDevice(ctx, d); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM device_connections").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("device_connections rows = %d, want 0", n)
	}
	if err := repo.DeleteDevice(ctx, d); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second DeleteDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestManagerWithSQLiteRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m1 := NewManager(NewSQLiteRepository(db), connection.NewRegistry())
	d, _ := m1.CreateDevice("rover")
	c, err := m1.AddCandidate(d.ID(), connection.Candidate{Name: "bench", Address: "10.0.0.9:9000", Kind: connection.KindTCPIP})
	if err != nil {
		t.Fatalf("AddCandidate() error = %v", err)
	}

	reg := connection.NewRegistry()
	m2 := NewManager(NewSQLiteRepository(db), reg)
	if n, err := m2.Load(ctx); err != nil || n != 1 {
		t.Fatalf("Load() = %d, %v", n, err)
	}
	got, err := reg.Lookup(c.ID())
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Name() != "bench" || got.Address().String() != "10.0.0.9:9000" {
		t.Errorf("loaded connection = %s %s", got.Name(), got.Address())
	}
}
