// Package catalog models the remote catalog document: a JSON file listing
// every available data file together with its current version metadata.
package catalog

import (
	"encoding/json"
	"path"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/skyroute/mapcache/pkg/errors"
)

// MaxFormatVersion is the highest catalog format version this client
// understands. Documents declaring a newer version are rejected wholesale.
const MaxFormatVersion = "2.0"

// entryTimeLayout is the date stamp format of catalog entries.
const entryTimeLayout = "20060102"

// Category classifies a catalog entry by its file extension.
type Category int

const (
	// CategoryUnknown is any extension the engine does not recognize.
	CategoryUnknown Category = iota
	// CategoryAviation covers .geojson aviation maps.
	CategoryAviation
	// CategoryBase covers .mbtiles base maps.
	CategoryBase
	// CategoryDatabase covers .txt ancillary databases.
	CategoryDatabase
)

func (c Category) String() string {
	switch c {
	case CategoryAviation:
		return "aviation maps"
	case CategoryBase:
		return "base maps"
	case CategoryDatabase:
		return "databases"
	default:
		return "unknown"
	}
}

// CategoryForPath classifies a relative file path by extension.
func CategoryForPath(p string) Category {
	switch strings.ToLower(path.Ext(p)) {
	case ".geojson":
		return CategoryAviation
	case ".mbtiles":
		return CategoryBase
	case ".txt":
		return CategoryDatabase
	default:
		return CategoryUnknown
	}
}

// Entry is one catalog line: a relative file path plus the current remote
// version metadata.
type Entry struct {
	// Path is the file path relative to the catalog base URL. It also
	// encodes the section (parent directory) and category (extension).
	Path string
	// Time is the remote modification date, day granularity.
	Time time.Time
	// Size is the remote file size in bytes. Zero means unknown.
	Size int64
}

// Stem returns the file-name stem of the entry, which is its catalog key
// within a section: "de/EDTF.geojson" -> "EDTF".
func (e Entry) Stem() string {
	base := path.Base(e.Path)
	if ext := path.Ext(base); ext != "" {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// Section returns the parent directory of the entry, or "" for a top-level
// path.
func (e Entry) Section() string {
	dir := path.Dir(e.Path)
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}

// Category classifies the entry by extension.
func (e Entry) Category() Category {
	return CategoryForPath(e.Path)
}

// Document is a parsed catalog.
type Document struct {
	// FormatVersion is the optional declared format version.
	FormatVersion string
	// URL is the base URL that entry paths are relative to.
	URL string
	// Maps lists the catalog entries in document order.
	Maps []Entry
}

// RemoteURL returns the absolute download URL for an entry of this document.
func (d *Document) RemoteURL(e Entry) string {
	return strings.TrimSuffix(d.URL, "/") + "/" + e.Path
}

type rawDocument struct {
	FormatVersion string     `json:"format_version"`
	URL           string     `json:"url"`
	Maps          []rawEntry `json:"maps"`
}

type rawEntry struct {
	Path string `json:"path"`
	Time string `json:"time"`
	Size int64  `json:"size"`
}

// Parse deserializes a catalog document. A document that is not well-formed
// JSON, lacks the required top-level fields, or declares an unsupported
// format version is rejected as a whole; Parse never returns a partially
// populated document. Individual entries with missing or malformed fields
// are skipped.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrParse, err.Error())
	}
	if raw.URL == "" {
		return nil, errors.Wrap(errors.ErrParse, "missing top-level url")
	}
	if raw.Maps == nil {
		return nil, errors.Wrap(errors.ErrParse, "missing top-level maps")
	}
	if err := checkFormatVersion(raw.FormatVersion); err != nil {
		return nil, err
	}

	doc := &Document{
		FormatVersion: raw.FormatVersion,
		URL:           raw.URL,
		Maps:          make([]Entry, 0, len(raw.Maps)),
	}
	for _, m := range raw.Maps {
		if m.Path == "" {
			continue
		}
		stamp, err := time.Parse(entryTimeLayout, m.Time)
		if err != nil {
			continue
		}
		doc.Maps = append(doc.Maps, Entry{Path: m.Path, Time: stamp, Size: m.Size})
	}
	return doc, nil
}

func checkFormatVersion(declared string) error {
	if declared == "" {
		return nil
	}
	v, err := goversion.NewVersion(declared)
	if err != nil {
		return errors.Wrapf(errors.ErrParse, "bad format version %q: %v", declared, err)
	}
	maxSupported := goversion.Must(goversion.NewVersion(MaxFormatVersion))
	if v.GreaterThan(maxSupported) {
		return errors.Wrapf(errors.ErrUnsupportedFormat, "document declares %s, newest supported is %s", declared, MaxFormatVersion)
	}
	return nil
}
