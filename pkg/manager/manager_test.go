package manager

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skyroute/mapcache/pkg/config"
	"github.com/skyroute/mapcache/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// catalogServer serves a catalog document plus the payload files it lists.
// The document's base URL points back at the server itself.
func catalogServer(t *testing.T, payloads map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var catalogHits atomic.Int32
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/maps.json", func(w http.ResponseWriter, _ *http.Request) {
		catalogHits.Add(1)
		doc := fmt.Sprintf(`{"url": %q, "maps": [`, srv.URL)
		first := true
		for p := range payloads {
			if !first {
				doc += ","
			}
			first = false
			doc += fmt.Sprintf(`{"path": %q, "time": "20210101", "size": %d}`, p, len(payloads[p]))
		}
		doc += "]}"
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		payload, ok := payloads[r.URL.Path[1:]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(payload))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &catalogHits
}

func newLoopManager(t *testing.T, catalogURL string, accepted bool) (*Manager, chan struct{}) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Settings.DataDir = t.TempDir()
	cfg.Settings.CatalogURL = catalogURL

	store, err := settings.Open(cfg.SettingsPath())
	require.NoError(t, err)
	require.NoError(t, store.SetTermsAccepted(accepted))

	reconciled := make(chan struct{}, 16)
	m, err := New(cfg, store, Hooks{
		OnReconciled: func() { reconciled <- struct{}{} },
	})
	require.NoError(t, err)
	return m, reconciled
}

func waitReconciled(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a reconciliation pass")
	}
}

func TestManagerFullSyncAndUpdate(t *testing.T) {
	payload := `{"type": "FeatureCollection", "features": []}`
	srv, _ := catalogServer(t, map[string]string{"de/EDTF.geojson": payload})

	m, _ := newLoopManager(t, srv.URL+"/maps.json", false)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// Refresh is user-initiated, so it works without accepted terms.
	require.NoError(t, m.Refresh())

	require.Len(t, m.All().Items(), 1)
	assert.True(t, m.All().Updatable())
	assert.False(t, m.All().HasFile())

	m.UpdateAll()
	require.Eventually(t, func() bool {
		return m.All().HasFile() && !m.Downloading()
	}, 10*time.Second, 10*time.Millisecond)

	item := m.All().Items()[0]
	data, err := os.ReadFile(item.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.False(t, item.Updatable(), "a fresh download matches the catalog")
	assert.False(t, m.All().Updatable())
}

func TestManagerStartReconcilesCachedCatalogOffline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Settings.DataDir = t.TempDir()
	cfg.Settings.CatalogURL = "https://127.0.0.1:1/maps.json"

	doc := `{"url": "https://127.0.0.1:1", "maps": [{"path": "de/EDTF.geojson", "time": "20210101", "size": 7}]}`
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CatalogPath()), 0o755))
	require.NoError(t, os.WriteFile(cfg.CatalogPath(), []byte(doc), 0o644))

	store, err := settings.Open(cfg.SettingsPath())
	require.NoError(t, err)

	reconciled := make(chan struct{}, 16)
	m, err := New(cfg, store, Hooks{
		OnReconciled: func() { reconciled <- struct{}{} },
	})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	waitReconciled(t, reconciled)
	require.Len(t, m.All().Items(), 1)
	assert.Equal(t, "EDTF", m.All().Items()[0].ObjectName())
}

func TestManagerAutoUpdateHonorsConsent(t *testing.T) {
	t.Run("withheld consent keeps the engine offline", func(t *testing.T) {
		srv, hits := catalogServer(t, nil)
		m, _ := newLoopManager(t, srv.URL+"/maps.json", false)
		m.cfg.Settings.RetryInterval = 10 * time.Millisecond

		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("accepted consent fetches a missing catalog", func(t *testing.T) {
		srv, hits := catalogServer(t, nil)
		m, reconciled := newLoopManager(t, srv.URL+"/maps.json", true)
		m.cfg.Settings.RetryInterval = 10 * time.Millisecond

		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		waitReconciled(t, reconciled)
		assert.GreaterOrEqual(t, hits.Load(), int32(1))
	})
}

func TestManagerRefreshPersistsStamp(t *testing.T) {
	srv, _ := catalogServer(t, nil)
	m, _ := newLoopManager(t, srv.URL+"/maps.json", false)
	require.True(t, m.store.LastCatalogRefresh().IsZero())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, m.Refresh())
	assert.False(t, m.store.LastCatalogRefresh().IsZero())
}

func TestManagerRefreshWaitsForFetchedCatalog(t *testing.T) {
	srv, hits := catalogServer(t, map[string]string{"de/EDTF.geojson": "{}"})

	// An older cached document is reconciled at startup; Refresh must not
	// report success off that offline pass.
	cfg := config.DefaultConfig()
	cfg.Settings.DataDir = t.TempDir()
	cfg.Settings.CatalogURL = srv.URL + "/maps.json"

	stale := fmt.Sprintf(`{"url": %q, "maps": []}`, srv.URL)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CatalogPath()), 0o755))
	require.NoError(t, os.WriteFile(cfg.CatalogPath(), []byte(stale), 0o644))

	store, err := settings.Open(cfg.SettingsPath())
	require.NoError(t, err)
	// A recent stamp keeps the startup pass offline.
	require.NoError(t, store.SetLastCatalogRefresh(time.Now()))

	m, err := New(cfg, store, Hooks{})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, m.Refresh())
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
	assert.Len(t, m.All().Items(), 1, "the fetched document is reconciled before Refresh returns")
}

func TestManagerRefreshReportsFetchFailure(t *testing.T) {
	m, _ := newLoopManager(t, "http://127.0.0.1:1/maps.json", false)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Error(t, m.Refresh())
	assert.Empty(t, m.All().Items())
}

func TestManagerUpdateAllManyItems(t *testing.T) {
	payloads := make(map[string]string, 200)
	for i := 0; i < 200; i++ {
		payloads[fmt.Sprintf("de/AP%03d.geojson", i)] = fmt.Sprintf(`{"id": %d}`, i)
	}
	srv, _ := catalogServer(t, payloads)

	m, _ := newLoopManager(t, srv.URL+"/maps.json", false)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, m.Refresh())
	require.Len(t, m.All().Items(), 200)

	returned := make(chan struct{})
	go func() {
		m.UpdateAll()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(10 * time.Second):
		t.Fatal("UpdateAll did not return with a large batch of downloads")
	}

	require.Eventually(t, func() bool {
		return m.All().HasFile() && !m.Downloading()
	}, 30*time.Second, 10*time.Millisecond)
	assert.False(t, m.All().Updatable())
	assert.Len(t, m.All().DownloadablesWithFile(), 200)
}

func TestManagerStartFetchesStaleCatalogImmediately(t *testing.T) {
	srv, hits := catalogServer(t, nil)

	cfg := config.DefaultConfig()
	cfg.Settings.DataDir = t.TempDir()
	cfg.Settings.CatalogURL = srv.URL + "/maps.json"

	doc := fmt.Sprintf(`{"url": %q, "maps": []}`, srv.URL)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CatalogPath()), 0o755))
	require.NoError(t, os.WriteFile(cfg.CatalogPath(), []byte(doc), 0o644))

	store, err := settings.Open(cfg.SettingsPath())
	require.NoError(t, err)
	require.NoError(t, store.SetTermsAccepted(true))
	require.NoError(t, store.SetLastCatalogRefresh(time.Now().Add(-10*24*time.Hour)))

	m, err := New(cfg, store, Hooks{})
	require.NoError(t, err)
	// Hour-long intervals: only an immediate startup fetch can reach the
	// server within the test's lifetime.
	m.cfg.Settings.RetryInterval = time.Hour
	m.cfg.Settings.CheckInterval = time.Hour

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return hits.Load() >= 1
	}, 10*time.Second, 10*time.Millisecond)
}

func TestManagerStopWaitsForDownloads(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/maps.json", func(w http.ResponseWriter, _ *http.Request) {
		doc := fmt.Sprintf(`{"url": %q, "maps": [{"path": "de/EDTF.geojson", "time": "20210101", "size": 4096}]}`, srv.URL)
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/de/EDTF.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	m, _ := newLoopManager(t, srv.URL+"/maps.json", false)
	mapsDir := m.cfg.MapsDir()
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Refresh())

	m.UpdateAll()
	item := m.All().Items()[0]
	require.True(t, item.Downloading())

	m.Stop()

	// The fetch was canceled and fully drained; nothing writes into the
	// cache directory after Stop returns.
	assert.False(t, item.Downloading())
	leftovers, err := filepath.Glob(filepath.Join(mapsDir, "de", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	assert.NoFileExists(t, item.LocalPath())
}

func TestManagerStartTwiceFails(t *testing.T) {
	srv, _ := catalogServer(t, nil)
	m, _ := newLoopManager(t, srv.URL+"/maps.json", false)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Error(t, m.Start(context.Background()))
}

func TestManagerStopIsIdempotent(t *testing.T) {
	srv, _ := catalogServer(t, nil)
	m, _ := newLoopManager(t, srv.URL+"/maps.json", false)
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	m.Stop()
}
