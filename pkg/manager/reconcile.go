package manager

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/skyroute/mapcache/internal/logger"
	"github.com/skyroute/mapcache/pkg/catalog"
	"github.com/skyroute/mapcache/pkg/downloadable"
	"github.com/skyroute/mapcache/pkg/fsutil"
)

// reconcile aligns the item set with the cached catalog document and then
// garbage-collects the cache directory. It runs on the event loop goroutine.
// A document that fails to parse aborts the pass; previously reconciled state
// stays untouched. fromNetwork marks a pass triggered by a fresh download,
// which additionally persists the refresh stamp and re-arms the timer.
func (m *Manager) reconcile(fromNetwork bool) error {
	doc, err := m.source.Parse()
	if err != nil {
		m.emitError("cannot reconcile: " + err.Error())
		return err
	}

	seen := make(map[itemKey]bool, len(doc.Maps))
	for _, entry := range doc.Maps {
		cat := entry.Category()
		if cat == catalog.CategoryUnknown {
			logger.Debug("skipping catalog entry with unrecognized extension", logger.Fields{"path": entry.Path})
			continue
		}
		key := itemKey{category: cat, stem: entry.Stem()}
		if seen[key] {
			logger.Warn("duplicate catalog entry", logger.Fields{"path": entry.Path})
			continue
		}
		seen[key] = true

		remote, err := url.Parse(doc.RemoteURL(entry))
		if err != nil || remote.Scheme == "" {
			m.emitError("catalog entry " + entry.Path + " has a malformed URL")
			continue
		}

		if item, ok := m.items[key]; ok {
			resupported := !item.HasRemoteURL()
			item.SetRemoteMetadata(entry.Time, entry.Size)
			item.SetRemoteURL(remote)
			if resupported {
				item.SetSection(entry.Section())
				m.groupFor(cat).Add(item)
			}
			continue
		}
		m.createItem(key, entry, remote)
	}

	// Items whose catalog entry disappeared: keep the local file as an
	// unsupported item, drop the rest.
	for key, item := range m.items {
		if seen[key] || !item.HasRemoteURL() {
			continue
		}
		if item.HasLocalFile() {
			logger.Info("catalog no longer offers file, keeping local copy", logger.Fields{"object": item.ObjectName()})
			item.ClearRemoteURL()
			item.SetSection(unsupportedSection)
			m.groupFor(key.category).Remove(item)
			continue
		}
		item.Destroy()
		delete(m.items, key)
	}

	m.collectGarbage()
	m.sweepUnsupported()
	m.markGroupsDirty()

	if fromNetwork {
		if err := m.store.SetLastCatalogRefresh(m.clock()); err != nil {
			m.emitError("cannot persist refresh stamp: " + err.Error())
		}
		m.rearmTimer()
	}
	logger.Debug("reconciliation finished", logger.Fields{"items": len(m.items)})
	return nil
}

func (m *Manager) createItem(key itemKey, entry catalog.Entry, remote *url.URL) {
	item := downloadable.New(downloadable.Config{
		RemoteURL:  remote,
		LocalPath:  filepath.Join(m.cfg.MapsDir(), filepath.FromSlash(entry.Path)),
		ObjectName: entry.Stem(),
		Section:    entry.Section(),
		Client:     m.client,
		UserAgent:  m.cfg.Settings.UserAgent,
		Hooks:      m.itemHooks(),
		Jobs:       &m.wg,
	})
	item.SetRemoteMetadata(entry.Time, entry.Size)
	m.items[key] = item
	m.all.Add(item)
	m.groupFor(key.category).Add(item)
}

// collectGarbage walks the cache directory and removes files no item refers
// to. Files with a recognized extension are adopted as unsupported items
// instead of being deleted; the user put them there. Filesystem errors are
// reported per file and never abort the sweep.
func (m *Manager) collectGarbage() {
	mapsDir := m.cfg.MapsDir()
	if _, err := os.Stat(mapsDir); err != nil {
		return
	}

	referenced := make(map[string]bool, len(m.items))
	for _, item := range m.items {
		referenced[filepath.Clean(item.LocalPath())] = true
	}

	_ = filepath.WalkDir(mapsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			m.emitError("cannot scan " + p + ": " + err.Error())
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".tmp") {
			return nil
		}
		if strings.HasSuffix(p, ".lock") {
			base := strings.TrimSuffix(p, ".lock")
			if _, statErr := os.Stat(base); os.IsNotExist(statErr) {
				_ = os.Remove(p)
			}
			return nil
		}
		if referenced[filepath.Clean(p)] {
			return nil
		}

		rel, relErr := filepath.Rel(mapsDir, p)
		if relErr != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if m.adoptOrphan(p, relSlash) {
			return nil
		}

		logger.Info("removing unreferenced file", logger.Fields{"path": rel})
		if rmErr := os.Remove(p); rmErr != nil {
			m.emitError("cannot remove " + p + ": " + rmErr.Error())
			return nil
		}
		_ = os.Remove(downloadable.LockPath(p))
		return nil
	})

	if err := fsutil.RemoveEmptyDirs(mapsDir); err != nil {
		m.emitError("cannot prune empty directories: " + err.Error())
	}
}

// adoptOrphan turns an unreferenced file with a recognized extension into an
// unsupported item. It reports whether the file was adopted.
func (m *Manager) adoptOrphan(p, relSlash string) bool {
	cat := catalog.CategoryForPath(relSlash)
	if cat == catalog.CategoryUnknown {
		return false
	}
	key := itemKey{category: cat, stem: catalog.Entry{Path: relSlash}.Stem()}
	if _, exists := m.items[key]; exists {
		// A different file already owns this identity; the stray copy
		// goes the way of any other unreferenced file.
		return false
	}

	logger.Info("adopting unmanaged file", logger.Fields{"path": relSlash})
	item := downloadable.New(downloadable.Config{
		LocalPath:  p,
		ObjectName: key.stem,
		Section:    unsupportedSection,
		Client:     m.client,
		UserAgent:  m.cfg.Settings.UserAgent,
		Hooks:      m.itemHooks(),
		Jobs:       &m.wg,
	})
	m.items[key] = item
	m.all.Add(item)
	return true
}

// sweepUnsupported drops unsupported items whose local file has disappeared.
// Such an item has neither a remote nor a local side left.
func (m *Manager) sweepUnsupported() {
	for key, item := range m.items {
		if item.HasRemoteURL() || item.HasLocalFile() {
			continue
		}
		item.Destroy()
		delete(m.items, key)
	}
}
