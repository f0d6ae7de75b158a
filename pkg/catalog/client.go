package catalog

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/skyroute/mapcache/pkg/downloadable"
	"github.com/skyroute/mapcache/pkg/errors"
)

// Client is the DownloadItem bound to the catalog's well-known URL and its
// fixed local cache path. It adds parsing of the cached document on top of
// the plain download behavior.
type Client struct {
	*downloadable.Item
}

// ClientConfig describes a catalog client.
type ClientConfig struct {
	CatalogURL *url.URL
	LocalPath  string
	HTTPClient *http.Client
	UserAgent  string
	Hooks      downloadable.Hooks
	Jobs       *sync.WaitGroup
}

// NewClient creates the catalog client. Like any Item it never touches the
// network on construction.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		Item: downloadable.New(downloadable.Config{
			RemoteURL:  cfg.CatalogURL,
			LocalPath:  cfg.LocalPath,
			ObjectName: "maps.json",
			Section:    "catalog",
			Client:     cfg.HTTPClient,
			UserAgent:  cfg.UserAgent,
			Hooks:      cfg.Hooks,
			Jobs:       cfg.Jobs,
		}),
	}
}

// Parse reads the locally cached catalog under the read lock and parses it.
// It returns an error and no document on any failure; a corrupt catalog
// fetch must not destroy previously reconciled state, so callers abort their
// pass when Parse fails.
func (c *Client) Parse() (*Document, error) {
	if !c.HasLocalFile() {
		return nil, errors.Wrap(errors.ErrParse, "no cached catalog document")
	}
	data, err := c.ReadLocked()
	if err != nil {
		return nil, errors.Wrap(errors.ErrParse, err.Error())
	}
	return Parse(data)
}
