// Package manager implements the cache synchronization engine. A Manager owns
// the full set of download items, reconciles them against the remote catalog,
// runs the auto-update schedule and keeps the aggregate groups consistent.
//
// All state mutation happens on a single event loop goroutine. Download
// completions, catalog arrivals, timer ticks and API commands are posted to
// the loop as events and handled one at a time, so a reconciliation pass is
// never interleaved with another mutation.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/skyroute/mapcache/internal/logger"
	"github.com/skyroute/mapcache/pkg/catalog"
	"github.com/skyroute/mapcache/pkg/config"
	"github.com/skyroute/mapcache/pkg/downloadable"
	"github.com/skyroute/mapcache/pkg/errors"
	"github.com/skyroute/mapcache/pkg/group"
	"github.com/skyroute/mapcache/pkg/mapinfo"
	"github.com/skyroute/mapcache/pkg/settings"
)

// unsupportedSection labels items whose catalog entry is gone but whose local
// file is retained, and orphan files adopted from disk.
const unsupportedSection = "unsupported"

// Hooks carries the manager's outward-facing callbacks. They fire on the
// event loop goroutine; receivers must not call back into the manager
// synchronously.
type Hooks struct {
	// OnError fires with a human-readable message for every failed
	// download, parse or filesystem operation. Errors never abort the loop.
	OnError func(msg string)
	// OnReconciled fires after every completed reconciliation pass.
	OnReconciled func()
	// OnGroupChanged fires once per group per batch when aggregate
	// properties change.
	OnGroupChanged func(g *group.Group, changed group.Changed)
}

// Option customizes a Manager at construction time.
type Option func(*Manager)

// WithCatalogSource replaces the default catalog client.
func WithCatalogSource(src CatalogSource) Option {
	return func(m *Manager) { m.source = src }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.clock = now }
}

type eventKind int

const (
	evCatalogChanged eventKind = iota
	evCatalogError
	evItemError
	evRefresh
	evReconcile
	evUpdateAll
)

type event struct {
	kind eventKind
	msg  string
	// done, if non-nil, is closed once the event has been handled and the
	// groups committed.
	done chan struct{}
	// errc, if non-nil, receives the outcome of the catalog fetch the event
	// requested.
	errc chan error
}

// errStopped is delivered to blocked callers when the engine shuts down
// before their command completes.
var errStopped = fmt.Errorf("manager stopped")

// itemKey identifies a download item across catalog updates. Metadata changes
// update the existing item in place rather than producing a new identity.
type itemKey struct {
	category catalog.Category
	stem     string
}

// Manager is the cache synchronization engine. Construct it with New, then
// call Start to spawn the event loop. Public methods are safe for concurrent
// use; they post commands to the loop.
type Manager struct {
	cfg    *config.Config
	store  *settings.Store
	hooks  Hooks
	source CatalogSource
	client *http.Client
	clock  func() time.Time

	all       *group.Group
	aviation  *group.Group
	base      *group.Group
	databases *group.Group

	// items is owned by the event loop; no lock is needed.
	items map[itemKey]*downloadable.Item

	events chan event
	// itemDirty coalesces item state and content changes into one pending
	// tick. Item hooks may fire on the loop goroutine itself during an
	// update-all pass, so this signal must never block.
	itemDirty chan struct{}
	quit      chan struct{}
	// loopDone is closed when the event loop has exited; posts arriving
	// after that fail immediately instead of blocking.
	loopDone chan struct{}
	// refreshWaiters holds the callers blocked in Refresh, released by the
	// next catalog arrival or error. Owned by the event loop.
	refreshWaiters []chan error

	timer   *time.Timer
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	stop    sync.Once
	mu      sync.Mutex
}

// New constructs a Manager. It touches neither the network nor the cache
// directory; all deferred work happens in Start.
func New(cfg *config.Config, store *settings.Store, hooks Hooks, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		store:  store,
		hooks:  hooks,
		client: &http.Client{Timeout: cfg.Settings.HTTPTimeout},
		clock:  time.Now,
		items:     make(map[itemKey]*downloadable.Item),
		events:    make(chan event, 128),
		itemDirty: make(chan struct{}, 1),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}

	m.all = group.New("all", m.groupHooks())
	m.aviation = group.New(catalog.CategoryAviation.String(), m.groupHooks())
	m.base = group.New(catalog.CategoryBase.String(), m.groupHooks())
	m.databases = group.New(catalog.CategoryDatabase.String(), m.groupHooks())

	for _, opt := range opts {
		opt(m)
	}

	if m.source == nil {
		catalogURL, err := url.Parse(cfg.Settings.CatalogURL)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrConfigValidation, "bad catalog URL %q: %v", cfg.Settings.CatalogURL, err)
		}
		m.source = catalog.NewClient(catalog.ClientConfig{
			CatalogURL: catalogURL,
			LocalPath:  cfg.CatalogPath(),
			HTTPClient: m.client,
			UserAgent:  cfg.Settings.UserAgent,
			Jobs:       &m.wg,
			Hooks: downloadable.Hooks{
				OnContentChanged: func(*downloadable.Item) {
					m.post(event{kind: evCatalogChanged})
				},
				OnError: func(_ *downloadable.Item, msg string) {
					m.post(event{kind: evCatalogError, msg: msg})
				},
			},
		})
	}
	return m, nil
}

// Start spawns the event loop and performs deferred initialization: an
// offline reconciliation from the cached catalog if one exists, then the
// regular refresh policy, which fetches a missing or stale catalog right
// away once the terms of use have been accepted. Start may be called once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.Wrap(errors.ErrConfigValidation, "manager already started")
	}
	m.started = true
	m.timer = time.NewTimer(time.Duration(1<<62 - 1))
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop cancels in-flight downloads, shuts the event loop down and waits for
// both to drain. Nothing touches the data directory after Stop returns;
// aborted fetches leave the local files untouched.
func (m *Manager) Stop() {
	m.stop.Do(func() {
		close(m.quit)
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
}

// All returns the aggregator over every item the manager knows.
func (m *Manager) All() *group.Group { return m.all }

// AviationMaps returns the aggregator over aviation map items.
func (m *Manager) AviationMaps() *group.Group { return m.aviation }

// BaseMaps returns the aggregator over base map items.
func (m *Manager) BaseMaps() *group.Group { return m.base }

// Databases returns the aggregator over ancillary database items.
func (m *Manager) Databases() *group.Group { return m.databases }

// Downloading reports whether any download is in flight.
func (m *Manager) Downloading() bool { return m.all.Downloading() }

// Refresh fetches the catalog and blocks until the reconciliation pass that
// fetch triggers has run, or the fetch has failed. It is user-initiated, so
// the terms-of-use gate does not apply.
func (m *Manager) Refresh() error {
	errc := make(chan error, 1)
	m.post(event{kind: evRefresh, errc: errc})
	select {
	case err := <-errc:
		return err
	case <-m.loopDone:
		return errStopped
	}
}

// Reconcile requests a reconciliation pass against the cached catalog,
// without touching the network. It blocks until the pass has run or the
// engine has shut down.
func (m *Manager) Reconcile() {
	done := make(chan struct{})
	m.post(event{kind: evReconcile, done: done})
	select {
	case <-done:
	case <-m.loopDone:
	}
}

// UpdateAll starts downloads for every updatable item. It blocks until the
// downloads have been started, not until they finish; observe completion
// through Downloading or the group hooks.
func (m *Manager) UpdateAll() {
	done := make(chan struct{})
	m.post(event{kind: evUpdateAll, done: done})
	select {
	case <-done:
	case <-m.loopDone:
	}
}

// Describe summarizes the content of a cached file.
func (m *Manager) Describe(path string) (mapinfo.Info, error) {
	return mapinfo.Describe(path)
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.quit:
		m.failEvent(ev)
	case <-m.loopDone:
		m.failEvent(ev)
	}
}

// failEvent releases whoever is blocked on the event without handling it.
func (m *Manager) failEvent(ev event) {
	if ev.done != nil {
		close(ev.done)
	}
	if ev.errc != nil {
		ev.errc <- errStopped
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer m.drainEvents()
	defer close(m.loopDone)
	m.initialize(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case <-m.timer.C:
			m.autoUpdate(ctx)
		case <-m.itemDirty:
			m.sweepUnsupported()
			m.markGroupsDirty()
			m.commitGroups()
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

// drainEvents fails everything that was posted but never handled, so blocked
// callers are released on shutdown. It runs after loopDone is closed; new
// posts no longer reach the channel at that point.
func (m *Manager) drainEvents() {
	for {
		select {
		case ev := <-m.events:
			m.failEvent(ev)
		default:
			m.releaseRefreshWaiters(errStopped)
			return
		}
	}
}

// initialize performs the deferred startup work on the loop goroutine: an
// offline pass over the cached catalog, then the regular refresh policy. A
// missing or stale catalog is fetched right away rather than waiting for the
// first timer tick.
func (m *Manager) initialize(ctx context.Context) {
	if m.source.HasLocalFile() {
		if err := m.reconcile(false); err == nil {
			m.commitGroups()
			m.emitReconciled()
		}
	}
	m.autoUpdate(ctx)
}

func (m *Manager) handle(ctx context.Context, ev event) {
	defer func() {
		if ev.done != nil {
			close(ev.done)
		}
	}()

	switch ev.kind {
	case evCatalogChanged:
		err := m.reconcile(true)
		m.commitGroups()
		if err == nil {
			m.emitReconciled()
		}
		m.releaseRefreshWaiters(err)
	case evCatalogError:
		m.emitError("catalog download failed: " + ev.msg)
		m.releaseRefreshWaiters(errors.Wrap(errors.ErrTransport, ev.msg))
	case evItemError:
		m.emitError(ev.msg)
	case evRefresh:
		if ev.errc != nil {
			m.refreshWaiters = append(m.refreshWaiters, ev.errc)
		}
		m.source.StartDownload(ctx)
	case evReconcile:
		if err := m.reconcile(false); err == nil {
			m.commitGroups()
			m.emitReconciled()
		}
	case evUpdateAll:
		m.all.UpdateAll(ctx)
	}
	m.commitGroups()
}

// releaseRefreshWaiters completes every pending Refresh call with the outcome
// of the catalog fetch.
func (m *Manager) releaseRefreshWaiters(err error) {
	for _, errc := range m.refreshWaiters {
		errc <- err
	}
	m.refreshWaiters = nil
}

// autoUpdate runs the scheduled refresh policy on a timer tick. Automatic
// network access requires accepted terms of use.
func (m *Manager) autoUpdate(ctx context.Context) {
	if m.store.TermsAccepted() && m.catalogStale() {
		logger.Info("cached catalog is out of date, refreshing")
		m.source.StartDownload(ctx)
	}
	m.rearmTimer()
}

// catalogStale reports whether the last successful refresh is older than the
// configured threshold. A never-refreshed catalog is stale.
func (m *Manager) catalogStale() bool {
	last := m.store.LastCatalogRefresh()
	if last.IsZero() {
		return true
	}
	return m.clock().Sub(last) > m.cfg.Settings.StaleAfter
}

// rearmTimer schedules the next tick: soon while the catalog is stale, at the
// regular check interval once it is current.
func (m *Manager) rearmTimer() {
	if !m.timer.Stop() {
		select {
		case <-m.timer.C:
		default:
		}
	}
	next := m.cfg.Settings.CheckInterval
	if m.catalogStale() {
		next = m.cfg.Settings.RetryInterval
	}
	m.timer.Reset(next)
}

func (m *Manager) markGroupsDirty() {
	for _, g := range m.groups() {
		g.MarkDirty()
	}
}

func (m *Manager) commitGroups() {
	for _, g := range m.groups() {
		g.Commit()
	}
}

func (m *Manager) groups() []*group.Group {
	return []*group.Group{m.all, m.aviation, m.base, m.databases}
}

func (m *Manager) groupFor(c catalog.Category) *group.Group {
	switch c {
	case catalog.CategoryAviation:
		return m.aviation
	case catalog.CategoryBase:
		return m.base
	case catalog.CategoryDatabase:
		return m.databases
	default:
		return nil
	}
}

func (m *Manager) groupHooks() group.Hooks {
	return group.Hooks{OnChange: func(g *group.Group, changed group.Changed) {
		if m.hooks.OnGroupChanged != nil {
			m.hooks.OnGroupChanged(g, changed)
		}
	}}
}

func (m *Manager) itemHooks() downloadable.Hooks {
	return downloadable.Hooks{
		OnStateChanged:   func(*downloadable.Item) { m.notifyItemDirty() },
		OnContentChanged: func(*downloadable.Item) { m.notifyItemDirty() },
		OnError: func(it *downloadable.Item, msg string) {
			m.post(event{kind: evItemError, msg: fmt.Sprintf("%s: %s", it.ObjectName(), msg)})
		},
	}
}

func (m *Manager) notifyItemDirty() {
	select {
	case m.itemDirty <- struct{}{}:
	default:
	}
}

func (m *Manager) emitError(msg string) {
	logger.Warn(msg)
	if m.hooks.OnError != nil {
		m.hooks.OnError(msg)
	}
}

func (m *Manager) emitReconciled() {
	if m.hooks.OnReconciled != nil {
		m.hooks.OnReconciled()
	}
}
