package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

const (
	outagesQuery = `
		SELECT going_down, up_again, uptime
		FROM device_outages
		WHERE device_id = $1 AND (up_again >= $2 OR up_again IS NULL)
		ORDER BY going_down ASC`

	devicesQuery = `
		SELECT device_id, uptime
		FROM devices
		WHERE NOT disabled
		ORDER BY device_id`

	deviceQuery = `
		SELECT device_id, uptime
		FROM devices
		WHERE device_id = $1`
)

// Postgres reads devices and outages from a PostgreSQL database.
//
// Expected schema (timestamps are epoch seconds):
//
//	devices(device_id TEXT PRIMARY KEY, uptime BIGINT NULL, disabled BOOLEAN)
//	device_outages(device_id TEXT, going_down BIGINT, up_again BIGINT NULL, uptime BIGINT)
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// Outages implements availability.OutageSource.
func (p *Postgres) Outages(ctx context.Context, deviceID string, cutoff int64) ([]availability.Outage, error) {
	rows, err := p.pool.Query(ctx, outagesQuery, deviceID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: query outages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (availability.Outage, error) {
		var (
			o     availability.Outage
			prior *int64
		)
		if err := row.Scan(&o.StartedAt, &o.EndedAt, &prior); err != nil {
			return o, err
		}
		if prior != nil {
			o.PriorUptime = *prior
		}
		return o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan outages: %w", err)
	}
	return out, nil
}

// Devices returns all enabled devices.
func (p *Postgres) Devices(ctx context.Context) ([]availability.Device, error) {
	rows, err := p.pool.Query(ctx, devicesQuery)
	if err != nil {
		return nil, fmt.Errorf("store: query devices: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanDevice)
	if err != nil {
		return nil, fmt.Errorf("store: scan devices: %w", err)
	}
	return out, nil
}

// Device returns one device, or ErrNotFound.
func (p *Postgres) Device(ctx context.Context, id string) (availability.Device, error) {
	rows, err := p.pool.Query(ctx, deviceQuery, id)
	if err != nil {
		return availability.Device{}, fmt.Errorf("store: query device: %w", err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDevice)
	if errors.Is(err, pgx.ErrNoRows) {
		return availability.Device{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return availability.Device{}, fmt.Errorf("store: scan device: %w", err)
	}
	return d, nil
}

func scanDevice(row pgx.CollectableRow) (availability.Device, error) {
	var d availability.Device
	err := row.Scan(&d.ID, &d.Uptime)
	return d, err
}
