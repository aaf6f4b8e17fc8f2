// Package lifecycle installs and activates versions of the cache layer.
//
// A generation moves Installing → Waiting → Activating → Active →
// Superseded. Install seeds the static store from the manifest. Activation
// deletes every store outside the new version's allow-list and then claims:
// from that point the dispatcher routes new requests to the new stores.
// Requests already in flight keep the store set they started with.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/origin"
)

var (
	// ErrNothingPending is returned by Activate when no generation is waiting
	ErrNothingPending = errors.New("no installed version is waiting to activate")
	// ErrCleanupAborted wraps store enumeration failures during activation
	ErrCleanupAborted = errors.New("old store cleanup aborted")
	// ErrInstallFailed is returned by Deploy when RequireFullInstall is set
	// and the manifest could not be fully seeded
	ErrInstallFailed = errors.New("install did not seed the full manifest")
)

// State of one generation
type State int32

const (
	Installing State = iota
	Waiting
	Activating
	Active
	Superseded
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Superseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Generation is one installed version of the layer
type Generation struct {
	ID          uuid.UUID
	Stores      cache.StoreSet
	InstalledAt time.Time

	state atomic.Int32
}

func (g *Generation) State() State { return State(g.state.Load()) }

func (g *Generation) setState(s State) { g.state.Store(int32(s)) }

// InstallStatus summarises manifest seeding
type InstallStatus int

const (
	InstallFull InstallStatus = iota
	InstallPartial
	InstallFailed
)

func (s InstallStatus) String() string {
	switch s {
	case InstallFull:
		return "full"
	case InstallPartial:
		return "partial"
	default:
		return "failed"
	}
}

// InstallResult reports which manifest assets were seeded
type InstallResult struct {
	Status InstallStatus
	Seeded []string
	Failed map[string]error
}

// Err joins the per-asset failures, or returns nil on a full install
func (r InstallResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for asset, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", asset, err))
	}
	return errors.Join(errs...)
}

// Origin is the subset of origin.Client used to seed assets
type Origin interface {
	origin.Fetcher
	NewRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error)
}

// Manager owns the active and pending generations
type Manager struct {
	registry cache.Registry
	origin   Origin
	manifest Manifest
	logger   zerolog.Logger

	// RequireFullInstall stops Deploy from activating after a partial
	// install. The default is to activate regardless.
	RequireFullInstall bool
	// SeedConcurrency bounds parallel manifest fetches
	SeedConcurrency int

	mu      sync.Mutex // serialises install and activation
	pending *Generation
	active  atomic.Pointer[Generation]
}

// NewManager creates a manager with no active generation
func NewManager(registry cache.Registry, o Origin, manifest Manifest, logger zerolog.Logger) *Manager {
	return &Manager{
		registry:        registry,
		origin:          o,
		manifest:        manifest,
		logger:          logger,
		SeedConcurrency: 4,
	}
}

// Active returns the generation serving requests, or nil
func (m *Manager) Active() *Generation { return m.active.Load() }

// Pending returns the installed generation waiting to activate, or nil
func (m *Manager) Pending() *Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// ActiveStores implements dispatch.ActiveStores
func (m *Manager) ActiveStores() (cache.StoreSet, bool) {
	g := m.active.Load()
	if g == nil {
		return cache.StoreSet{}, false
	}
	return g.Stores, true
}

// Deploy installs version and activates it without waiting for the previous
// version to go idle. Activation proceeds after a partial or failed install
// unless RequireFullInstall is set.
func (m *Manager) Deploy(ctx context.Context, version string) (InstallResult, error) {
	_, res := m.Install(ctx, version)
	if res.Status != InstallFull {
		if m.RequireFullInstall {
			return res, fmt.Errorf("%w: %w", ErrInstallFailed, res.Err())
		}
		m.logger.Warn().Err(res.Err()).Str("version", version).Stringer("install", res.Status).
			Msg("manifest not fully seeded; activating anyway")
	}
	return res, m.SkipWaiting(ctx)
}

// Install creates a generation for version and seeds its static store. The
// generation waits until Activate or SkipWaiting is called. A previously
// waiting generation is discarded.
func (m *Manager) Install(ctx context.Context, version string) (*Generation, InstallResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := &Generation{ID: uuid.New(), Stores: cache.NewStoreSet(version)}
	g.setState(Installing)
	log := m.logger.With().Str("version", version).Str("generation", g.ID.String()).Logger()
	log.Info().Int("assets", len(m.manifest.Assets)).Msg("installing")

	res := m.seed(ctx, g.Stores.Static)
	g.InstalledAt = time.Now().UTC()
	g.setState(Waiting)

	if m.pending != nil {
		m.pending.setState(Superseded)
	}
	m.pending = g

	log.Info().Stringer("install", res.Status).Int("seeded", len(res.Seeded)).Int("failed", len(res.Failed)).Msg("installed")
	return g, res
}

// SkipWaiting activates the waiting generation immediately. It is a no-op
// when nothing is waiting.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	err := m.Activate(ctx)
	if errors.Is(err, ErrNothingPending) {
		return nil
	}
	return err
}

// Activate runs cleanup and then claims for the waiting generation. If the
// store list cannot be read, cleanup is skipped and every old store is kept;
// the generation still claims and the error is returned.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.pending
	if g == nil {
		return ErrNothingPending
	}
	g.setState(Activating)
	log := m.logger.With().Str("version", g.Stores.Version).Str("generation", g.ID.String()).Logger()

	cleanupErr := m.cleanup(ctx, g.Stores)
	if cleanupErr != nil {
		log.Error().Err(cleanupErr).Msg("store cleanup aborted; old stores kept")
	}

	prev := m.active.Swap(g)
	g.setState(Active)
	m.pending = nil
	if prev != nil {
		prev.setState(Superseded)
		log.Info().Str("previous", prev.Stores.Version).Msg("previous version superseded")
	}
	log.Info().Msg("activated")
	return cleanupErr
}

func (m *Manager) cleanup(ctx context.Context, keep cache.StoreSet) error {
	names, err := m.registry.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCleanupAborted, err)
	}
	for _, name := range names {
		if keep.Allows(name) {
			continue
		}
		if _, err := m.registry.DeleteStore(ctx, name); err != nil {
			m.logger.Warn().Err(err).Str("store", name).Msg("delete old store failed")
			continue
		}
		m.logger.Info().Str("store", name).Msg("deleted old store")
	}
	return nil
}

// seed fetches every manifest asset and stores the 2xx ones
func (m *Manager) seed(ctx context.Context, storeName string) InstallResult {
	res := InstallResult{Failed: map[string]error{}}
	store, err := m.registry.Open(ctx, storeName)
	if err != nil {
		for _, a := range m.manifest.Assets {
			res.Failed[a] = err
		}
		res.Status = InstallFailed
		return res
	}

	errs := make([]error, len(m.manifest.Assets))
	var g errgroup.Group
	if m.SeedConcurrency > 0 {
		g.SetLimit(m.SeedConcurrency)
	}
	for i, asset := range m.manifest.Assets {
		g.Go(func() error {
			errs[i] = m.seedOne(ctx, store, asset)
			return nil
		})
	}
	_ = g.Wait()

	for i, asset := range m.manifest.Assets {
		if errs[i] != nil {
			res.Failed[asset] = errs[i]
			continue
		}
		res.Seeded = append(res.Seeded, asset)
	}
	switch {
	case len(res.Failed) == 0:
		res.Status = InstallFull
	case len(res.Seeded) == 0:
		res.Status = InstallFailed
	default:
		res.Status = InstallPartial
	}
	return res
}

func (m *Manager) seedOne(ctx context.Context, store cache.Store, asset string) error {
	req, err := m.origin.NewRequest(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return err
	}
	resp, err := m.origin.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !origin.OK(resp.StatusCode) {
		origin.Drain(resp)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	key := cache.KeyForRequest(req)
	entry, err := cache.EntryFromResponse(key, resp)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, entry)
}
