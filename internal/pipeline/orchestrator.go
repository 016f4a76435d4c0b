// Package pipeline sequences the dependent migration stages. The
// orchestrator is the pipeline's single state machine: states are the stage
// values plus a terminal done state, transitions run strictly forward along
// the fixed sequence, and the only driver is a stage-complete signal on the
// bus, never a timer or an external command.
package pipeline

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata-migrate/internal/artifact"
	"github.com/sells-group/refdata-migrate/internal/bus"
	"github.com/sells-group/refdata-migrate/internal/config"
	"github.com/sells-group/refdata-migrate/internal/engine"
	"github.com/sells-group/refdata-migrate/internal/gateway"
	"github.com/sells-group/refdata-migrate/internal/model"
	"github.com/sells-group/refdata-migrate/internal/tracker"
	"github.com/sells-group/refdata-migrate/internal/transform"
)

// Orchestrator owns the stage sequence and the only mutable cross-stage
// state. Each field below is written during exactly one stage and read-only
// afterward; stage sequencing serializes the writers.
type Orchestrator struct {
	cfg     *config.Config
	bus     *bus.Bus
	tracker *tracker.Tracker
	engine  *engine.Engine
	gw      gateway.Client
	art     *artifact.Writer
	source  engine.Source[model.Location] // nil in CSV mode

	organizations []model.Organization
	orgLocations  []model.OrganizationLocation
	locationIDs   map[string]string
	userGroups    map[string][]model.UserRecord
	users         []model.UserRecord

	// userIDs is folded from user-resolved bus events while the users stage
	// is in flight; keys are lower-cased usernames.
	userMu  sync.Mutex
	userIDs map[string]string

	// runCtx is the context Run was called with; stages launched from
	// advance inherit it so cancellation stops dispatch mid-pipeline.
	runCtx context.Context

	done chan error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Config   *config.Config
	Bus      *bus.Bus
	Tracker  *tracker.Tracker
	Engine   *engine.Engine
	Gateway  gateway.Client
	Artifact *artifact.Writer
	Source   engine.Source[model.Location]
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:         opts.Config,
		bus:         opts.Bus,
		tracker:     opts.Tracker,
		engine:      opts.Engine,
		gw:          opts.Gateway,
		art:         opts.Artifact,
		source:      opts.Source,
		runCtx:      context.Background(),
		locationIDs: make(map[string]string),
		userIDs:     make(map[string]string),
		done:        make(chan error, 1),
	}

	o.bus.Subscribe(bus.TopicStageComplete, func(ev bus.Event) {
		o.advance(ev.Stage)
	})
	o.bus.Subscribe(bus.TopicUserResolved, func(ev bus.Event) {
		o.userMu.Lock()
		o.userIDs[strings.ToLower(ev.User.Username)] = ev.User.ID
		o.userMu.Unlock()
		zap.L().Info("user identifier resolved", zap.String("username", ev.User.Username))
	})
	o.bus.Subscribe(bus.TopicShutdown, func(ev bus.Event) {
		select {
		case o.done <- ev.Err:
		default:
		}
	})

	return o
}

// Run executes the whole pipeline and blocks until the terminal shutdown
// signal or context cancellation. sourceFile selects CSV input for
// locations; when blank, the live source database is polled instead.
// usersFile optionally supplies the users CSV.
func (o *Orchestrator) Run(ctx context.Context, sourceFile, usersFile string) error {
	o.runCtx = ctx

	if err := o.acquireLocations(ctx, sourceFile, usersFile); err != nil {
		// Acquisition failure is fatal to the stage but still shuts the
		// process down in order; the failed stage is never retried.
		o.bus.Shutdown(err)
	}

	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: interrupted")
	}
}

// acquireLocations performs the first stage's data acquisition and hands the
// result to the dispatch engine.
func (o *Orchestrator) acquireLocations(ctx context.Context, sourceFile, usersFile string) error {
	if usersFile != "" {
		groups, err := o.loadUsers(usersFile)
		if err != nil {
			return err
		}
		o.userGroups = groups
	}

	if sourceFile == "" {
		if o.source == nil {
			return eris.New("pipeline: no source file and no source database configured")
		}
		return engine.Pull(ctx, o.engine, model.StageLocations, o.source,
			func(ctx context.Context, page []model.Location) error {
				resp, err := o.gw.Send(ctx, http.MethodPost, o.cfg.Destination.LocationURL, page)
				if err != nil {
					return err
				}
				if !resp.OK() {
					return eris.Errorf("pipeline: location page post returned %d", resp.StatusCode)
				}
				return nil
			})
	}

	res, err := o.transformLocations(ctx, sourceFile)
	if err != nil {
		return err
	}

	// Cross-stage state is written here, before any posting begins, and
	// read-only once the locations stage advances.
	o.organizations = res.Organizations
	o.orgLocations = res.OrganizationLocations
	o.locationIDs = res.LocationIDs

	if o.art != nil {
		o.art.Locations(res.NewLocations)
		o.art.Organizations(res.Organizations)
		o.art.OrganizationLocations(res.OrganizationLocations)
	}

	if o.cfg.Skip.Locations {
		zap.L().Info("stage skipped", zap.String("stage", model.StageLocations.String()))
		o.tracker.Start(model.StageLocations, 0)
		return nil
	}

	engine.Push(ctx, o.engine, model.StageLocations, res.NewLocations,
		postTo[model.Location](o.gw, o.cfg.Destination.LocationURL))
	return nil
}

func (o *Orchestrator) transformLocations(ctx context.Context, sourceFile string) (*transform.Result, error) {
	tags, err := o.fetchLocationTags(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(sourceFile)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open locations csv %s", sourceFile)
	}
	defer f.Close() //nolint:errcheck

	tr := transform.New(tags, o.cfg.Location.Levels(), o.cfg.Teams.TriggerLevel)
	res, err := tr.Transform(f)
	if err != nil {
		return nil, err
	}

	zap.L().Info("locations transformed",
		zap.Int("new_locations", len(res.NewLocations)),
		zap.Int("organizations", len(res.Organizations)),
	)
	return res, nil
}

// fetchLocationTags takes the per-run snapshot of destination tags used to
// validate CSV headers and tag outgoing locations.
func (o *Orchestrator) fetchLocationTags(ctx context.Context) (map[string]model.LocationTag, error) {
	resp, err := o.gw.Send(ctx, http.MethodGet, o.cfg.Destination.LocationTagURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch location tags")
	}
	if !resp.OK() {
		return nil, eris.Errorf("pipeline: location tag fetch returned %d", resp.StatusCode)
	}

	var tags []model.LocationTag
	if err := resp.Decode(&tags); err != nil {
		return nil, err
	}

	byName := make(map[string]model.LocationTag, len(tags))
	for _, t := range tags {
		byName[t.Name] = t
	}
	return byName, nil
}

func (o *Orchestrator) loadUsers(usersFile string) (map[string][]model.UserRecord, error) {
	f, err := os.Open(usersFile)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open users csv %s", usersFile)
	}
	defer f.Close() //nolint:errcheck

	groups, err := transform.ParseUsers(f)
	if err != nil {
		return nil, err
	}
	zap.L().Info("users loaded", zap.Int("groups", len(groups)))
	return groups, nil
}

// advance reacts to a completed stage by launching the next stage's
// acquisition and dispatch. An empty entity collection still emits an
// immediate stage-complete signal through the engine so the pipeline can
// never stall on a skip.
func (o *Orchestrator) advance(completed model.Stage) {
	ctx := o.runCtx

	switch completed.Next() {
	case model.StageOrganizations:
		engine.Push(ctx, o.engine, model.StageOrganizations, o.organizations,
			postTo[model.Organization](o.gw, o.cfg.Destination.OrganizationURL))

	case model.StageOrganizationLocations:
		engine.Push(ctx, o.engine, model.StageOrganizationLocations, o.orgLocations,
			postTo[model.OrganizationLocation](o.gw, o.cfg.Destination.OrganizationLocationURL))

	case model.StageUsers:
		o.users = o.resolveUsers()
		if o.art != nil {
			o.art.Users(o.users)
		}
		if o.cfg.Skip.Users {
			zap.L().Info("stage skipped", zap.String("stage", model.StageUsers.String()))
			o.tracker.Start(model.StageUsers, 0)
			return
		}
		engine.Push(ctx, o.engine, model.StageUsers, o.users, o.postUsers())

	case model.StageUserGroups:
		if o.cfg.Skip.UserGroups {
			zap.L().Info("stage skipped", zap.String("stage", model.StageUserGroups.String()))
			o.tracker.Start(model.StageUserGroups, 0)
			return
		}
		engine.Push(ctx, o.engine, model.StageUserGroups, o.groupAssignments(),
			postTo[model.GroupAssignment](o.gw, o.cfg.Destination.UserGroupURL))

	case model.StageDone:
		zap.L().Info("migration complete")
		o.bus.Shutdown(nil)
	}
}

// resolveUsers attaches each user group to the organization location created
// for its (parent location, location) key. Minted location identifiers exist
// only after the locations stage, which is why linkage happens here and not
// at parse time.
func (o *Orchestrator) resolveUsers() []model.UserRecord {
	var users []model.UserRecord
	for key, group := range o.userGroups {
		id := o.locationIDs[key]
		if id == "" {
			zap.L().Warn("no location for user group", zap.String("key", key))
		}
		for _, u := range group {
			u.OrganizationLocationID = id
			users = append(users, u)
		}
	}
	return users
}

func (o *Orchestrator) groupAssignments() []model.GroupAssignment {
	o.userMu.Lock()
	defer o.userMu.Unlock()

	var assignments []model.GroupAssignment
	for _, u := range o.users {
		if u.Username == "" {
			continue
		}
		assignments = append(assignments, model.GroupAssignment{
			Username: u.Username,
			UserID:   o.userIDs[strings.ToLower(u.Username)],
		})
	}
	return assignments
}

// postTo returns the standard bulk-create action for a JSON array endpoint.
func postTo[T any](gw gateway.Client, url string) engine.Action[T] {
	return func(ctx context.Context, items []T) (*gateway.Response, error) {
		return gw.Send(ctx, http.MethodPost, url, items)
	}
}

// postUsers posts a user batch and publishes a user-resolved event for every
// identifier the destination reports back.
func (o *Orchestrator) postUsers() engine.Action[model.UserRecord] {
	return func(ctx context.Context, items []model.UserRecord) (*gateway.Response, error) {
		resp, err := o.gw.Send(ctx, http.MethodPost, o.cfg.Destination.UserURL, items)
		if err != nil {
			return resp, err
		}

		if resp.OK() {
			var created []struct {
				Username string `json:"username"`
				ID       string `json:"id"`
			}
			if decodeErr := resp.Decode(&created); decodeErr == nil {
				for _, c := range created {
					if c.Username != "" && c.ID != "" {
						o.bus.Publish(bus.Event{
							Topic: bus.TopicUserResolved,
							User:  bus.UserResolved{Username: c.Username, ID: c.ID},
						})
					}
				}
			}
		}
		return resp, nil
	}
}
