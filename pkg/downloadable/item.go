// Package downloadable implements the pairing of one remote file with one
// local file, together with its download state machine. An Item owns at most
// one asynchronous fetch at a time; completions are reported through hooks.
// Retry policy is the caller's concern, an Item never retries on its own.
package downloadable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skyroute/mapcache/internal/logger"
	"github.com/skyroute/mapcache/pkg/errors"
	"github.com/skyroute/mapcache/pkg/fsutil"
)

// Hooks carries callbacks for item events. Callbacks run on the download
// goroutine; receivers that need serialization must provide it themselves.
type Hooks struct {
	// OnStateChanged fires on every state transition.
	OnStateChanged func(*Item)
	// OnContentChanged fires after a successful atomic replace of the local
	// file.
	OnContentChanged func(*Item)
	// OnError fires with a human-readable message when a download attempt
	// fails.
	OnError func(*Item, string)
}

// Config describes a new Item.
type Config struct {
	// RemoteURL is the source of the file. nil marks the item unsupported:
	// it exists only because a local file is present.
	RemoteURL *url.URL
	// LocalPath is the final location of the file on disk. Always set.
	LocalPath string
	// ObjectName is the catalog key of the item (file-name stem).
	ObjectName string
	// Section is the category/sub-group label.
	Section string

	Client    *http.Client
	UserAgent string
	Hooks     Hooks
	// Jobs, when set, tracks the asynchronous download goroutine. Owners
	// use it to wait out in-flight fetches on shutdown.
	Jobs *sync.WaitGroup
}

// Item is one remote-file/local-file pair. All exported methods are safe for
// concurrent use.
type Item struct {
	mu         sync.Mutex
	remoteURL  *url.URL
	localPath  string
	objectName string
	section    string
	remoteDate time.Time
	remoteSize int64
	state      State
	destroyed  bool

	client    *http.Client
	userAgent string
	hooks     Hooks
	jobs      *sync.WaitGroup
}

// New creates an Item. The item starts in StateIdle and never touches the
// filesystem on construction.
func New(cfg Config) *Item {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = fsutil.AppName + "/1.0"
	}
	return &Item{
		remoteURL:  cfg.RemoteURL,
		localPath:  cfg.LocalPath,
		objectName: cfg.ObjectName,
		section:    cfg.Section,
		client:     client,
		userAgent:  userAgent,
		hooks:      cfg.Hooks,
		jobs:       cfg.Jobs,
	}
}

// ObjectName returns the catalog key of the item.
func (it *Item) ObjectName() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.objectName
}

// Section returns the category label of the item.
func (it *Item) Section() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.section
}

// SetSection replaces the category label.
func (it *Item) SetSection(section string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.section = section
}

// LocalPath returns the final on-disk location of the file.
func (it *Item) LocalPath() string {
	return it.localPath
}

// RemoteURL returns the source URL, or nil for an unsupported item.
func (it *Item) RemoteURL() *url.URL {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.remoteURL
}

// HasRemoteURL reports whether the item is still offered remotely.
func (it *Item) HasRemoteURL() bool {
	return it.RemoteURL() != nil
}

// SetRemoteURL replaces the source URL. Passing a URL to a previously
// unsupported item marks it supported again.
func (it *Item) SetRemoteURL(u *url.URL) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.remoteURL = u
}

// ClearRemoteURL marks the item unsupported: its catalog entry disappeared
// but a local file is retained.
func (it *Item) ClearRemoteURL() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.remoteURL = nil
}

// RemoteDate returns the modification date the catalog reports for the
// remote file.
func (it *Item) RemoteDate() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.remoteDate
}

// RemoteSize returns the size in bytes the catalog reports for the remote
// file. Zero means unknown.
func (it *Item) RemoteSize() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.remoteSize
}

// SetRemoteMetadata updates the remote date and size in place. The item's
// identity is unchanged, so group membership and external references stay
// stable across catalog updates.
func (it *Item) SetRemoteMetadata(date time.Time, size int64) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.remoteDate = date
	it.remoteSize = size
}

// State returns the current download state.
func (it *Item) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// Downloading reports whether a fetch is in flight.
func (it *Item) Downloading() bool {
	return it.State() == StateDownloading
}

// Destroy marks the item dead. Groups prune destroyed items on their next
// recomputation. Destroy never touches the local file.
func (it *Item) Destroy() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.destroyed = true
}

// Destroyed reports whether the item has been destroyed by its owner.
func (it *Item) Destroyed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.destroyed
}

// HasLocalFile reports whether the local file currently exists on disk. The
// check is live, never cached, and independent of download state.
func (it *Item) HasLocalFile() bool {
	info, err := os.Stat(it.localPath)
	return err == nil && !info.IsDir()
}

// Updatable reports whether downloading would change the local file: the
// item is still offered remotely and either no local copy exists or the
// remote metadata differs from the copy on disk. A successful download
// stamps the local file with the remote date, so an unchanged catalog entry
// is not updatable.
func (it *Item) Updatable() bool {
	it.mu.Lock()
	remoteURL := it.remoteURL
	remoteDate := it.remoteDate
	remoteSize := it.remoteSize
	it.mu.Unlock()

	if remoteURL == nil {
		return false
	}
	info, err := os.Stat(it.localPath)
	if err != nil {
		return true
	}
	if !remoteDate.IsZero() && !info.ModTime().Truncate(time.Second).Equal(remoteDate.Truncate(time.Second)) {
		return true
	}
	if remoteSize > 0 && remoteSize != info.Size() {
		return true
	}
	return false
}

// ReadLocked returns the full content of the local file, holding the sibling
// read lock for the duration of the read.
func (it *Item) ReadLocked() ([]byte, error) {
	var data []byte
	err := WithReadLock(it.localPath, func() error {
		var readErr error
		data, readErr = os.ReadFile(it.localPath)
		return readErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", it.localPath)
	}
	return data, nil
}

// StartDownload begins an asynchronous fetch of the remote file. It is a
// no-op while a download is already in flight; a failed or completed
// download may be superseded by a new call. An unsupported item reports
// through the error hook and stays in its current state.
func (it *Item) StartDownload(ctx context.Context) {
	it.mu.Lock()
	if it.state == StateDownloading {
		it.mu.Unlock()
		return
	}
	if it.remoteURL == nil {
		name := it.objectName
		it.mu.Unlock()
		it.emitError(fmt.Sprintf("%s: %v", name, errors.ErrInvalidURL))
		return
	}
	src := *it.remoteURL
	it.setStateLocked(StateDownloading)
	it.mu.Unlock()
	it.hooks.fireStateChanged(it)

	jobID := uuid.NewString()
	logger.Debug("starting download", logger.Fields{
		"job": jobID, "object": it.objectName, "url": src.String(),
	})

	if it.jobs != nil {
		it.jobs.Add(1)
	}
	go it.download(ctx, &src, jobID)
}

func (it *Item) download(ctx context.Context, src *url.URL, jobID string) {
	if it.jobs != nil {
		defer it.jobs.Done()
	}
	err := it.fetchAndReplace(ctx, src)

	it.mu.Lock()
	if err != nil {
		it.setStateLocked(StateFailed)
	} else {
		it.setStateLocked(StateSucceeded)
	}
	it.mu.Unlock()
	it.hooks.fireStateChanged(it)

	if err != nil {
		logger.Warn("download failed", logger.Fields{"job": jobID, "object": it.objectName, "error": err.Error()})
		it.emitError(err.Error())
		return
	}
	logger.Debug("download finished", logger.Fields{"job": jobID, "object": it.objectName})
	if it.hooks.OnContentChanged != nil {
		it.hooks.OnContentChanged(it)
	}
}

// fetchAndReplace downloads src into a temporary file next to the final
// location and atomically renames it into place under the sibling lock.
// Partial content is never visible at LocalPath.
func (it *Item) fetchAndReplace(ctx context.Context, src *url.URL) error {
	if err := fsutil.EnsureFileDir(it.localPath); err != nil {
		return errors.Wrapf(errors.ErrFilesystem, "could not create directory for %s: %v", it.localPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), http.NoBody)
	if err != nil {
		return errors.Wrapf(errors.ErrTransport, "failed to create request for %s: %v", src, err)
	}
	req.Header.Set("User-Agent", it.userAgent)

	resp, err := it.client.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrTransport, "%s: %v", src, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrTransport, "%s: unexpected status code %d", src, resp.StatusCode)
	}

	tmpPath, err := it.writeBodyToTemp(resp.Body)
	if err != nil {
		return err
	}

	it.mu.Lock()
	remoteDate := it.remoteDate
	it.mu.Unlock()

	// The date stamp happens inside the lock: a reader must never see the
	// new content paired with the old modification time.
	err = withWriteLock(it.localPath, func() error {
		if err := fsutil.Move(tmpPath, it.localPath); err != nil {
			return errors.Wrapf(errors.ErrFilesystem, "could not finalize %s: %v", it.localPath, err)
		}
		// Stamp the local file with the remote date so Updatable can
		// compare the copy on disk against the catalog without a side
		// database.
		if !remoteDate.IsZero() {
			_ = os.Chtimes(it.localPath, remoteDate, remoteDate)
		}
		_ = os.Chmod(it.localPath, fsutil.FileModeDefault)
		return nil
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (it *Item) writeBodyToTemp(body io.Reader) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(it.localPath), "dl-*.tmp")
	if err != nil {
		return "", errors.Wrapf(errors.ErrFilesystem, "could not create temp file: %v", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", errors.Wrapf(errors.ErrTransport, "could not write %s: %v", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", errors.Wrapf(errors.ErrFilesystem, "could not sync %s: %v", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", errors.Wrapf(errors.ErrFilesystem, "could not close %s: %v", tmpPath, err)
	}
	return tmpPath, nil
}

// setStateLocked transitions the state machine. Callers hold it.mu and are
// responsible for firing the state-changed hook after unlocking.
func (it *Item) setStateLocked(next State) {
	it.state = next
}

func (it *Item) emitError(msg string) {
	if it.hooks.OnError != nil {
		it.hooks.OnError(it, msg)
	}
}

func (h Hooks) fireStateChanged(it *Item) {
	if h.OnStateChanged != nil {
		h.OnStateChanged(it)
	}
}

