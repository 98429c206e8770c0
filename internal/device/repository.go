package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

// Repository persists devices and their connection lists.
// The core only calls it when a device's connection list changes; a
// failure there is logged by the caller, never returned as a core error.
type Repository interface {
	// ListDevices returns every persisted device, ordered by name.
	ListDevices(ctx context.Context) ([]Record, error)

	// SaveDevice inserts or replaces d and its connection list.
	SaveDevice(ctx context.Context, d *Device) error

	// DeleteDevice removes d and its connections.
	// Returns ErrDeviceNotFound if the device does not exist.
	DeleteDevice(ctx context.Context, d *Device) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListDevices returns every persisted device, ordered by name.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM devices
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	index := make(map[string]int)
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		index[rec.ID] = len(records)
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	conns, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, name, kind, address
		FROM device_connections
		ORDER BY device_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying device connections: %w", err)
	}
	defer conns.Close()

	for conns.Next() {
		var info connection.Info
		var kind string
		if err := conns.Scan(&info.ID, &info.DeviceID, &info.Name, &kind, &info.Address); err != nil {
			return nil, fmt.Errorf("scanning device connection: %w", err)
		}
		info.Kind = connection.Kind(kind)
		info.Status = connection.StatusDisconnected

		i, ok := index[info.DeviceID]
		if !ok {
			continue
		}
		records[i].Connections = append(records[i].Connections, info)
	}
	if err := conns.Err(); err != nil {
		return nil, fmt.Errorf("iterating device connections: %w", err)
	}

	return records, nil
}

// SaveDevice inserts or replaces d and its connection list in one
// transaction. A connection moved from another device is re-parented.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, d *Device) error {
	rec := d.Record()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (id, name, slug, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			updated_at = excluded.updated_at`,
		rec.ID,
		rec.Name,
		rec.Slug,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_connections WHERE device_id = ?", rec.ID); err != nil {
		return fmt.Errorf("clearing device connections: %w", err)
	}

	for pos, info := range rec.Connections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO device_connections (id, device_id, position, name, kind, address)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				device_id = excluded.device_id,
				position = excluded.position,
				name = excluded.name`,
			info.ID,
			rec.ID,
			pos,
			info.Name,
			string(info.Kind),
			info.Address,
		)
		if err != nil {
			return fmt.Errorf("saving connection %s: %w", info.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// DeleteDevice removes d and its connections.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, d *Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_connections WHERE device_id = ?", d.ID()); err != nil {
		return fmt.Errorf("deleting device connections: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", d.ID())
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Record, error) {
	var rec Record
	var slug sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(&rec.ID, &rec.Name, &slug, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Slug = slug.String

	var parseErr error
	rec.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	rec.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	return &rec, nil
}
