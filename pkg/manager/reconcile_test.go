package manager

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skyroute/mapcache/pkg/catalog"
	"github.com/skyroute/mapcache/pkg/config"
	mock_manager "github.com/skyroute/mapcache/pkg/manager/mocks"
	"github.com/skyroute/mapcache/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testEnv struct {
	m   *Manager
	cfg *config.Config
	doc *catalog.Document

	mu   sync.Mutex
	errs []string
}

// newTestEnv builds a manager around a mocked catalog source whose Parse
// returns env.doc. The event loop is not started; tests drive reconciliation
// directly and commit the groups themselves.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Settings.DataDir = t.TempDir()

	store, err := settings.Open(cfg.SettingsPath())
	require.NoError(t, err)

	env := &testEnv{cfg: cfg, doc: &catalog.Document{URL: "https://example.com"}}

	ctrl := gomock.NewController(t)
	src := mock_manager.NewMockCatalogSource(ctrl)
	src.EXPECT().Parse().DoAndReturn(func() (*catalog.Document, error) {
		return env.doc, nil
	}).AnyTimes()
	src.EXPECT().HasLocalFile().Return(true).AnyTimes()

	m, err := New(cfg, store, Hooks{
		OnError: func(msg string) {
			env.mu.Lock()
			env.errs = append(env.errs, msg)
			env.mu.Unlock()
		},
	}, WithCatalogSource(src))
	require.NoError(t, err)

	env.m = m
	return env
}

func (e *testEnv) reconcile() {
	e.m.reconcile(false)
	e.m.commitGroups()
}

func (e *testEnv) errors() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.errs...)
}

// writeLocal places a file at the item path of a catalog entry and stamps it
// with the entry date, simulating a completed download.
func (e *testEnv) writeLocal(t *testing.T, entry catalog.Entry, content string) string {
	t.Helper()
	p := filepath.Join(e.cfg.MapsDir(), filepath.FromSlash(entry.Path))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	if !entry.Time.IsZero() {
		require.NoError(t, os.Chtimes(p, entry.Time, entry.Time))
	}
	return p
}

func day(yyyymmdd string) time.Time {
	t, err := time.Parse("20060102", yyyymmdd)
	if err != nil {
		panic(err)
	}
	return t
}

func TestReconcileCreatesItemsAndGroups(t *testing.T) {
	env := newTestEnv(t)
	env.doc.Maps = []catalog.Entry{
		{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 1000},
		{Path: "de.mbtiles", Time: day("20201215"), Size: 52428800},
		{Path: "databases/airports.txt", Time: day("20210101"), Size: 300},
		{Path: "misc/readme.pdf", Time: day("20210101"), Size: 1},
	}

	env.reconcile()

	assert.Len(t, env.m.All().Items(), 3, "unrecognized extensions never become items")
	assert.Len(t, env.m.AviationMaps().Items(), 1)
	assert.Len(t, env.m.BaseMaps().Items(), 1)
	assert.Len(t, env.m.Databases().Items(), 1)

	item := env.m.AviationMaps().Items()[0]
	assert.Equal(t, "EDTF", item.ObjectName())
	assert.Equal(t, "de", item.Section())
	assert.Equal(t, filepath.Join(env.cfg.MapsDir(), "de", "EDTF.geojson"), item.LocalPath())
	assert.Equal(t, "https://example.com/de/EDTF.geojson", item.RemoteURL().String())
	assert.True(t, item.Updatable(), "a never-downloaded item is updatable")

	assert.True(t, env.m.All().Updatable())
	assert.False(t, env.m.All().HasFile())
}

func TestReconcileIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.doc.Maps = []catalog.Entry{
		{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 1000},
	}

	env.reconcile()
	before := env.m.AviationMaps().Items()[0]

	env.reconcile()
	after := env.m.AviationMaps().Items()[0]

	assert.Same(t, before, after, "an unchanged catalog entry keeps its item identity")
	assert.Len(t, env.m.All().Items(), 1)
}

func TestReconcileUpdatesMetadataInPlace(t *testing.T) {
	env := newTestEnv(t)
	entry := catalog.Entry{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 2}
	env.doc.Maps = []catalog.Entry{entry}
	env.reconcile()

	item := env.m.AviationMaps().Items()[0]
	env.writeLocal(t, entry, "v1")
	env.m.markGroupsDirty()
	env.m.commitGroups()
	require.False(t, item.Updatable())

	// A newer remote version flips the same item back to updatable.
	env.doc.Maps = []catalog.Entry{{Path: "de/EDTF.geojson", Time: day("20210301"), Size: 2000}}
	env.reconcile()

	assert.Same(t, item, env.m.AviationMaps().Items()[0])
	assert.True(t, item.Updatable())
	assert.Equal(t, day("20210301"), item.RemoteDate())
	assert.Equal(t, int64(2000), item.RemoteSize())
}

func TestReconcileDestroysRemovedEntryWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	env.doc.Maps = []catalog.Entry{
		{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 1000},
	}
	env.reconcile()
	require.Len(t, env.m.All().Items(), 1)

	env.doc.Maps = nil
	env.reconcile()

	assert.Empty(t, env.m.All().Items())
	assert.Empty(t, env.m.AviationMaps().Items())
}

func TestReconcileKeepsRemovedEntryWithFile(t *testing.T) {
	env := newTestEnv(t)
	entry := catalog.Entry{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 2}
	env.doc.Maps = []catalog.Entry{entry}
	env.reconcile()
	localPath := env.writeLocal(t, entry, "v1")

	env.doc.Maps = nil
	env.reconcile()

	items := env.m.All().Items()
	require.Len(t, items, 1)
	item := items[0]
	assert.False(t, item.HasRemoteURL())
	assert.Equal(t, unsupportedSection, item.Section())
	assert.False(t, item.Updatable(), "an unsupported item can never be updated")
	assert.True(t, item.HasLocalFile())
	assert.FileExists(t, localPath)
	assert.Equal(t, []string{localPath}, env.m.All().Files())
	assert.Empty(t, env.m.AviationMaps().Items(), "an unsupported item leaves its category group")
	assert.False(t, env.m.AviationMaps().HasFile())
}

func TestReconcileResupportsKeptItem(t *testing.T) {
	env := newTestEnv(t)
	entry := catalog.Entry{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 2}
	env.doc.Maps = []catalog.Entry{entry}
	env.reconcile()
	env.writeLocal(t, entry, "v1")
	item := env.m.All().Items()[0]

	env.doc.Maps = nil
	env.reconcile()
	require.False(t, item.HasRemoteURL())
	require.Empty(t, env.m.AviationMaps().Items())

	// The catalog offers the file again; the kept item is reactivated
	// rather than replaced.
	env.doc.Maps = []catalog.Entry{{Path: "de/EDTF.geojson", Time: day("20210401"), Size: 99}}
	env.reconcile()

	require.Len(t, env.m.All().Items(), 1)
	assert.Same(t, item, env.m.All().Items()[0])
	assert.True(t, item.HasRemoteURL())
	assert.Equal(t, "de", item.Section())
	assert.Len(t, env.m.AviationMaps().Items(), 1)
	assert.True(t, item.Updatable())
}

func TestReconcileAdoptsRecognizedOrphans(t *testing.T) {
	env := newTestEnv(t)
	env.doc.Maps = []catalog.Entry{
		{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 1000},
	}

	custom := filepath.Join(env.cfg.MapsDir(), "de", "custom.geojson")
	require.NoError(t, os.MkdirAll(filepath.Dir(custom), 0o755))
	require.NoError(t, os.WriteFile(custom, []byte("{}"), 0o644))

	stray := filepath.Join(env.cfg.MapsDir(), "junk", "leftover.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	env.reconcile()

	assert.NoFileExists(t, stray)
	assert.NoDirExists(t, filepath.Dir(stray), "emptied directories are pruned")
	assert.FileExists(t, custom)

	items := env.m.All().Items()
	require.Len(t, items, 2)
	var adopted bool
	for _, item := range items {
		if item.ObjectName() == "custom" {
			adopted = true
			assert.Equal(t, unsupportedSection, item.Section())
			assert.False(t, item.HasRemoteURL())
		}
	}
	assert.True(t, adopted, "a recognized orphan becomes an unsupported item")
}

func TestReconcileRemovesStaleLockFiles(t *testing.T) {
	env := newTestEnv(t)
	entry := catalog.Entry{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 2}
	env.doc.Maps = []catalog.Entry{entry}
	localPath := env.writeLocal(t, entry, "v1")

	liveLock := localPath + ".lock"
	require.NoError(t, os.WriteFile(liveLock, nil, 0o644))
	orphanLock := filepath.Join(env.cfg.MapsDir(), "de", "gone.geojson.lock")
	require.NoError(t, os.WriteFile(orphanLock, nil, 0o644))

	env.reconcile()

	assert.FileExists(t, liveLock, "locks of live files are left alone")
	assert.NoFileExists(t, orphanLock)
}

func TestSweepDropsUnsupportedItemWhenFileVanishes(t *testing.T) {
	env := newTestEnv(t)
	entry := catalog.Entry{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 2}
	env.doc.Maps = []catalog.Entry{entry}
	env.reconcile()
	localPath := env.writeLocal(t, entry, "v1")

	env.doc.Maps = nil
	env.reconcile()
	require.Len(t, env.m.All().Items(), 1)

	require.NoError(t, os.Remove(localPath))
	env.m.sweepUnsupported()
	env.m.markGroupsDirty()
	env.m.commitGroups()

	assert.Empty(t, env.m.All().Items())
}

func TestReconcileAbortsOnCorruptCatalog(t *testing.T) {
	env := newTestEnv(t)
	env.doc.Maps = []catalog.Entry{
		{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 1000},
	}
	env.reconcile()
	require.Len(t, env.m.All().Items(), 1)

	ctrl := gomock.NewController(t)
	src := mock_manager.NewMockCatalogSource(ctrl)
	src.EXPECT().Parse().Return(nil, assert.AnError).AnyTimes()
	env.m.source = src

	env.reconcile()

	assert.Len(t, env.m.All().Items(), 1, "a bad catalog must not destroy reconciled state")
	require.NotEmpty(t, env.errors())
	assert.Contains(t, env.errors()[0], "cannot reconcile")
}

func TestReconcileUpdateCost(t *testing.T) {
	env := newTestEnv(t)
	entry := catalog.Entry{Path: "de/EDTF.geojson", Time: day("20210101"), Size: 1000}
	env.doc.Maps = []catalog.Entry{entry}

	env.reconcile()
	assert.True(t, env.m.All().Updatable())
	assert.Equal(t, int64(1000), env.m.All().UpdateSize().Bytes)

	// Simulate the completed download; the same catalog now costs nothing.
	p := env.writeLocal(t, entry, "exactly1000bytes")
	data := make([]byte, 1000)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	require.NoError(t, os.Chtimes(p, entry.Time, entry.Time))

	env.reconcile()
	assert.False(t, env.m.All().Updatable())
	assert.Equal(t, int64(0), env.m.All().UpdateSize().Bytes)
}
