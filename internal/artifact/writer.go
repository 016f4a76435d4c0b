// Package artifact writes the entities minted during transformation to
// per-kind CSV files, giving the operator a durable record of every
// identifier the run generated. Writes are file I/O and run on a bounded
// worker pool so they never block the dispatch loop.
package artifact

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/refdata-migrate/internal/model"
)

// Writer appends generated entities to CSV files under a run directory.
type Writer struct {
	dir  string
	pool *errgroup.Group

	mu    sync.Mutex
	files map[string]*csv.Writer
	open  []*os.File
}

// NewWriter resets the output directory and creates a writer whose blocking
// writes are bounded by poolSize concurrent workers.
func NewWriter(dir string, poolSize int) (*Writer, error) {
	// The directory holds only the previous run's output; start clean.
	if err := os.RemoveAll(dir); err != nil {
		return nil, eris.Wrap(err, "artifact: reset directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "artifact: create directory")
	}

	pool := &errgroup.Group{}
	if poolSize <= 0 {
		poolSize = 10
	}
	pool.SetLimit(poolSize)

	return &Writer{
		dir:   dir,
		pool:  pool,
		files: make(map[string]*csv.Writer),
	}, nil
}

func (w *Writer) writer(name string) (*csv.Writer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cw, ok := w.files[name]; ok {
		return cw, nil
	}
	f, err := os.Create(filepath.Join(w.dir, name+".csv"))
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: create %s.csv", name)
	}
	cw := csv.NewWriter(f)
	w.files[name] = cw
	w.open = append(w.open, f)
	return cw, nil
}

func (w *Writer) append(name string, rows [][]string) {
	w.pool.Go(func() error {
		cw, err := w.writer(name)
		if err != nil {
			return err
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, row := range rows {
			if err := cw.Write(row); err != nil {
				return eris.Wrapf(err, "artifact: write %s row", name)
			}
		}
		return nil
	})
}

// Locations records the generated locations.
func (w *Writer) Locations(locs []model.Location) {
	rows := make([][]string, 0, len(locs))
	for _, l := range locs {
		rows = append(rows, []string{
			l.ID, l.Properties.Name, l.Properties.ParentID,
			strconv.Itoa(l.Properties.GeographicalLevel),
		})
	}
	w.append("locations", rows)
}

// Organizations records the generated organizations.
func (w *Writer) Organizations(orgs []model.Organization) {
	rows := make([][]string, 0, len(orgs))
	for _, o := range orgs {
		rows = append(rows, []string{o.Identifier, o.Name})
	}
	w.append("organizations", rows)
}

// OrganizationLocations records the generated organization-location links.
func (w *Writer) OrganizationLocations(links []model.OrganizationLocation) {
	rows := make([][]string, 0, len(links))
	for _, ol := range links {
		rows = append(rows, []string{ol.Organization, ol.Location})
	}
	w.append("organization_locations", rows)
}

// Users records the user records with their resolved organization locations.
func (w *Writer) Users(users []model.UserRecord) {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			u.Username, u.FirstName, u.LastName,
			u.ParentLocation, u.Location, u.OrganizationLocationID,
		})
	}
	w.append("users", rows)
}

// Close waits for in-flight writes, flushes, and closes every file.
func (w *Writer) Close(_ context.Context) error {
	err := w.pool.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cw := range w.files {
		cw.Flush()
		if ferr := cw.Error(); ferr != nil && err == nil {
			err = eris.Wrap(ferr, "artifact: flush")
		}
	}
	for _, f := range w.open {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "artifact: close")
		}
	}
	return err
}
