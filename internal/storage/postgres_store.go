package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const tripColumns = `id, code, status, zone, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, driver_id, fare, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (models.Trip, error) {
	var (
		t                      models.Trip
		code, status, driverID sql.NullString
		pLat, pLon, dLat, dLon sql.NullFloat64
		fare                   sql.NullInt64
		created, updated       sql.NullTime
	)
	if err := row.Scan(&t.ID, &code, &status, &t.Zone, &pLat, &pLon, &dLat, &dLon, &driverID, &fare, &created, &updated); err != nil {
		return models.Trip{}, err
	}
	t.Code = code.String
	t.Status = lifecycle.Normalize(status.String)
	t.DriverID = driverID.String
	t.Fare = fare.Int64
	t.Pickup = toCoord(pLat, pLon)
	t.Dropoff = toCoord(dLat, dLon)
	t.CreatedAt = toTimePtr(created)
	t.UpdatedAt = toTimePtr(updated)
	return t, nil
}

func (p *PostgresStore) ListTrips(ctx context.Context, f TripFilter) ([]models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips
		WHERE ($1 = '' OR lower(trim(zone)) = lower(trim($1)))
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at, id`, f.Zone, string(lifecycle.Normalize(string(f.Status))))
	if err != nil {
		return nil, fmt.Errorf("storage.ListTrips: %w", err)
	}
	defer rows.Close()
	out := make([]models.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListTrips scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListTrips rows: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, ref string) (models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips
		WHERE id = $1 OR lower(code) = lower($1)
		ORDER BY (id = $1) DESC LIMIT 1`, ref)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, models.ErrNotFound
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("storage.GetTrip: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) SaveTrip(ctx context.Context, t models.Trip) error {
	pLat, pLon := fromCoord(t.Pickup)
	dLat, dLon := fromCoord(t.Dropoff)
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET code=$2, status=$3, zone=$4, pickup_lat=$5, pickup_lon=$6,
			dropoff_lat=$7, dropoff_lon=$8, driver_id=$9, fare=$10, updated_at=$12`,
		t.ID, nullString(t.Code), string(t.Status), t.Zone, pLat, pLon, dLat, dLon,
		nullString(t.DriverID), t.Fare, nullTime(t.CreatedAt), nullTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("storage.SaveTrip: %w", err)
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.Status) (models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE trips SET status=$1, updated_at=now()
		WHERE id = $2 OR lower(code) = lower($2)
		RETURNING `+tripColumns, string(status), id)
	return p.returning(row, "UpdateStatus")
}

func (p *PostgresStore) AssignDriver(ctx context.Context, id, driverID string) (models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE trips SET driver_id=$1, updated_at=now()
		WHERE id = $2 OR lower(code) = lower($2)
		RETURNING `+tripColumns, nullString(driverID), id)
	return p.returning(row, "AssignDriver")
}

func (p *PostgresStore) returning(row *sql.Row, op string) (models.Trip, error) {
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, models.ErrNotFound
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("storage.%s: %w", op, err)
	}
	return t, nil
}

const driverColumns = `id, name, zone, status, lat, lon, updated_at`

func scanDriver(row rowScanner) (models.Driver, error) {
	var (
		d        models.Driver
		name     sql.NullString
		status   string
		lat, lon sql.NullFloat64
		updated  sql.NullTime
	)
	if err := row.Scan(&d.ID, &name, &d.Zone, &status, &lat, &lon, &updated); err != nil {
		return models.Driver{}, err
	}
	d.Name = name.String
	d.Status = models.DriverState(status)
	d.Loc = toCoord(lat, lon)
	d.UpdatedAt = toTimePtr(updated)
	return d, nil
}

func (p *PostgresStore) ListDrivers(ctx context.Context, zone string) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers
		WHERE ($1 = '' OR lower(trim(zone)) = lower(trim($1)))
		ORDER BY id`, zone)
	if err != nil {
		return nil, fmt.Errorf("storage.ListDrivers: %w", err)
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListDrivers scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListDrivers rows: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, models.ErrNotFound
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("storage.GetDriver: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d models.Driver) error {
	lat, lon := fromCoord(d.Loc)
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(`+driverColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET name=$2, zone=$3, status=$4, lat=$5, lon=$6, updated_at=$7`,
		d.ID, nullString(d.Name), d.Zone, string(d.Status), lat, lon, nullTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("storage.SaveDriver: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListZones(ctx context.Context) ([]models.Zone, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, capacity_limit, active_drivers FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListZones: %w", err)
	}
	defer rows.Close()
	out := make([]models.Zone, 0)
	for rows.Next() {
		var z models.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.CapacityLimit, &z.ActiveDrivers); err != nil {
			return nil, fmt.Errorf("storage.ListZones scan: %w", err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListZones rows: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) SaveZone(ctx context.Context, z models.Zone) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO zones(id, name, capacity_limit, active_drivers)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=$2, capacity_limit=$3, active_drivers=$4`,
		z.ID, z.Name, z.CapacityLimit, z.ActiveDrivers)
	if err != nil {
		return fmt.Errorf("storage.SaveZone: %w", err)
	}
	return nil
}

func toCoord(lat, lon sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
}

func fromCoord(c *models.Coord) (sql.NullFloat64, sql.NullFloat64) {
	if !c.Valid() {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lon, Valid: true}
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
