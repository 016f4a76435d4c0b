// Package transform reconstructs parent/child administrative hierarchies
// from a flat paired-column CSV and mints identifiers for entities the
// source left blank.
package transform

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refdata-migrate/internal/model"
)

// Result is the transformer's output for one locations CSV.
type Result struct {
	// NewLocations are the generated (locally minted) locations, deduplicated
	// by identifier, in first-seen order. Only these are posted; pre-existing
	// locations are used for parent linkage and key lookups but never sent.
	NewLocations []model.Location

	// Organizations and OrganizationLocations are generated 1:1 from each
	// distinct team-bearing location, before any network posting begins.
	Organizations         []model.Organization
	OrganizationLocations []model.OrganizationLocation

	// LocationIDs maps the (parent name + own name) key of every minted or
	// team-bearing location to its identifier, for later user linkage.
	LocationIDs map[string]string
}

// Transformer builds Locations from the paired-column hierarchy CSV.
// Input header shape: repeated (LevelId, LevelName) column pairs, root level
// first, e.g. "Country Id, Country, Province Id, Province".
type Transformer struct {
	tags        map[string]model.LocationTag // level name -> destination tag
	levels      map[string]int               // level name -> hierarchy depth
	teamTrigger string
	newID       func() string // injectable for deterministic tests
}

// New creates a transformer. tags is the destination tag snapshot keyed by
// name; levels maps level names to depth; teamTrigger is the single level
// name that marks team-bearing locations (blank disables generation).
func New(tags map[string]model.LocationTag, levels map[string]int, teamTrigger string) *Transformer {
	return &Transformer{
		tags:        tags,
		levels:      levels,
		teamTrigger: teamTrigger,
		newID:       func() string { return uuid.New().String() },
	}
}

// WithIDFunc overrides identifier minting, for tests.
func (t *Transformer) WithIDFunc(fn func() string) *Transformer {
	t.newID = fn
	return t
}

// Transform reads the whole CSV and produces the stage's entity collections.
// Header validation runs once before any row processing; on failure the
// whole stage aborts and no rows are processed.
func (t *Transformer) Transform(r io.Reader) (*Result, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "transform: read locations csv")
	}
	if len(records) == 0 {
		return nil, eris.New("transform: locations csv is empty")
	}

	headers := records[0]
	if err := t.ValidateHeaders(headers); err != nil {
		return nil, err
	}

	ids := make(map[string]string)
	var all []model.Location
	for _, row := range records[1:] {
		chain, err := t.processRow(headers, row, ids)
		if err != nil {
			return nil, err
		}
		all = append(all, chain...)
	}

	res := &Result{LocationIDs: ids}

	// One Organization + OrganizationLocation pair per distinct team-bearing
	// location, even when the CSV repeats it across rows.
	if t.teamTrigger != "" {
		seen := make(map[string]bool)
		for _, loc := range all {
			if !loc.TeamBearing || seen[loc.ID] {
				continue
			}
			seen[loc.ID] = true
			org := model.Organization{
				Identifier: t.newID(),
				Active:     true,
				Name:       "Team " + loc.Properties.Name,
			}
			res.Organizations = append(res.Organizations, org)
			res.OrganizationLocations = append(res.OrganizationLocations, model.OrganizationLocation{
				Organization: org.Identifier,
				Location:     loc.ID,
			})
		}
	}

	// Only generated locations are queued for posting, deduplicated by id.
	seen := make(map[string]bool)
	for _, loc := range all {
		if !loc.Generated || seen[loc.ID] {
			continue
		}
		seen[loc.ID] = true
		res.NewLocations = append(res.NewLocations, loc)
	}

	return res, nil
}

// ValidateHeaders checks the paired-column header shape: an even count of at
// least 4 columns, every level name a known destination tag, and every id
// column named "<Level> Id" for its paired level.
func (t *Transformer) ValidateHeaders(headers []string) error {
	if len(headers) < 4 || len(headers)%2 != 0 {
		return eris.New("transform: invalid csv header - expected an even number of at least 4 columns")
	}

	for i := 0; i < len(headers); i += 2 {
		levelID := strings.TrimSpace(headers[i])
		level := strings.TrimSpace(headers[i+1])

		if _, ok := t.tags[level]; !ok {
			return eris.Errorf("transform: location tag %q does not exist - import location tags and retry", level)
		}

		if !idColumnMatches(levelID, level) {
			return eris.Errorf(
				"transform: incorrect columns %q and %q - id column must precede its level, named e.g. Country Id, Country",
				levelID, level,
			)
		}
	}
	return nil
}

// idColumnMatches reports whether levelID is the id column for level: it
// must end with an "Id" token and contain every word of the level name.
func idColumnMatches(levelID, level string) bool {
	idWords := strings.Fields(levelID)
	if len(idWords) == 0 || !strings.EqualFold(idWords[len(idWords)-1], "id") {
		return false
	}
	have := make(map[string]bool, len(idWords))
	for _, w := range idWords {
		have[strings.ToLower(w)] = true
	}
	for _, w := range strings.Fields(level) {
		if !have[strings.ToLower(w)] {
			return false
		}
	}
	return true
}

// processRow walks the column pairs left to right and builds the row's chain
// of locations, root first. Blank identifier cells are minted from the
// memoized (parent name, own name) key so repeated names across rows reuse
// the same identifier. Parent linkage is positional: each location's parent
// is the immediately preceding location in the chain.
func (t *Transformer) processRow(headers, row []string, ids map[string]string) ([]model.Location, error) {
	if len(row) < len(headers) {
		padded := make([]string, len(headers))
		copy(padded, row)
		row = padded
	}

	chain := make([]model.Location, 0, len(headers)/2)
	for i := 0; i+1 < len(headers); i += 2 {
		level := strings.TrimSpace(headers[i+1])
		id := strings.TrimSpace(row[i])
		name := strings.TrimSpace(row[i+1])

		parentName := ""
		if i >= 2 {
			parentName = strings.TrimSpace(row[i-1])
		}
		key := parentName + name

		generated := false
		if id == "" {
			existing, ok := ids[key]
			if !ok {
				existing = t.newID()
				ids[key] = existing
			}
			id = existing
			generated = true
		}

		teamBearing := t.teamTrigger != "" && strings.EqualFold(t.teamTrigger, level)
		if teamBearing {
			// Track team locations even when pre-existing; user records
			// resolve their organization location through this map.
			ids[key] = id
		}

		chain = append(chain, model.Location{
			ID:           id,
			LocationTags: []model.LocationTag{t.tags[level]},
			Properties: model.LocationProperties{
				Name:              name,
				GeographicalLevel: t.levels[level],
			},
			Generated:   generated,
			TeamBearing: teamBearing,
			Key:         key,
		})
	}

	for i := 1; i < len(chain); i++ {
		chain[i].Properties.ParentID = chain[i-1].ID
	}
	return chain, nil
}
