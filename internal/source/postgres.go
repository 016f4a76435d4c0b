// Package source reads reference data from the live source record system
// when no CSV input is supplied. Access is strictly paginated: one count
// query, then one page query per offset, with the page size equal to the
// configured data limit.
package source

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refdata-migrate/internal/model"
)

// Locations pulls administrative locations from the source database.
type Locations struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to the source database.
func Connect(ctx context.Context, databaseURL string) (*Locations, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "source: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "source: ping")
	}
	return &Locations{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Locations) Close() {
	s.pool.Close()
}

const (
	countLocationsSQL = `SELECT count(*) FROM locations`

	fetchLocationsSQL = `
		SELECT id, name, COALESCE(parent_id, ''), level
		FROM locations
		ORDER BY level, id
		LIMIT $1 OFFSET $2`
)

// Count returns the total number of source locations.
func (s *Locations) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, countLocationsSQL).Scan(&count); err != nil {
		return 0, eris.Wrap(err, "source: count locations")
	}
	return count, nil
}

// Fetch returns one page of locations at the given offset.
func (s *Locations) Fetch(ctx context.Context, offset, limit int) ([]model.Location, error) {
	rows, err := s.pool.Query(ctx, fetchLocationsSQL, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "source: fetch locations")
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var loc model.Location
		if err := rows.Scan(&loc.ID, &loc.Properties.Name, &loc.Properties.ParentID, &loc.Properties.GeographicalLevel); err != nil {
			return nil, eris.Wrap(err, "source: scan location")
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate locations")
	}
	return locations, nil
}
