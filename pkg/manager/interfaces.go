//go:generate mockgen -destination=./mocks/manager.go . CatalogSource

package manager

import (
	"context"

	"github.com/skyroute/mapcache/pkg/catalog"
)

// CatalogSource is the subset of the catalog client the manager depends on.
type CatalogSource interface {
	// StartDownload begins an asynchronous fetch of the catalog document.
	// Completion is reported through the hooks the source was built with.
	StartDownload(ctx context.Context)
	// HasLocalFile reports whether a cached catalog document exists on disk.
	HasLocalFile() bool
	// Parse reads and parses the cached catalog document.
	Parse() (*catalog.Document, error)
}
