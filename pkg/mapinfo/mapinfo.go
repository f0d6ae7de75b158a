// Package mapinfo summarizes the content of cached data files. Each supported
// format carries a small amount of self-describing metadata: GeoJSON files an
// "info" field, MBTILES files a metadata table, text databases a descriptive
// first line.
package mapinfo

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/skyroute/mapcache/pkg/downloadable"
	"github.com/skyroute/mapcache/pkg/errors"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Detail is one key/value row of format-specific metadata.
type Detail struct {
	Key   string
	Value string
}

// Info describes one cached file.
type Info struct {
	Path      string
	Size      int64
	Installed time.Time
	// Details holds format-specific metadata in source order. Empty for
	// formats that carry none.
	Details []Detail
}

// SizeString renders the file size for humans.
func (i Info) SizeString() string {
	return humanize.Bytes(uint64(i.Size))
}

// Describe summarizes a cached file. The file is read under the sibling read
// lock, so a concurrent download cannot swap it mid-read. Unrecognized
// formats yield an Info without details rather than an error.
func Describe(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, errors.Wrapf(errors.ErrFilesystem, "cannot describe %s: %v", path, err)
	}
	info := Info{
		Path:      path,
		Size:      stat.Size(),
		Installed: stat.ModTime(),
	}

	var details []Detail
	err = downloadable.WithReadLock(path, func() error {
		var readErr error
		switch strings.ToLower(filepath.Ext(path)) {
		case ".geojson":
			details, readErr = describeGeoJSON(path)
		case ".mbtiles":
			details, readErr = describeMBTiles(path)
		case ".txt":
			details, readErr = describeText(path)
		}
		return readErr
	})
	if err != nil {
		return Info{}, err
	}
	info.Details = details
	return info, nil
}

// describeGeoJSON extracts the top-level "info" field, a semicolon-separated
// list of source descriptions.
func describeGeoJSON(path string) ([]Detail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrFilesystem, "cannot read %s: %v", path, err)
	}
	var doc struct {
		Info string `json:"info"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "%s is not valid GeoJSON: %v", path, err)
	}
	var details []Detail
	for _, part := range strings.Split(doc.Info, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		details = append(details, Detail{Key: "info", Value: part})
	}
	return details, nil
}

// describeMBTiles reads the metadata table of an MBTILES container. The
// oversized "json" entry is skipped.
func describeMBTiles(path string) ([]Detail, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "cannot open %s: %v", path, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "%s has no readable metadata: %v", path, err)
	}
	defer func() { _ = rows.Close() }()

	var details []Detail
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrapf(errors.ErrParse, "cannot read metadata of %s: %v", path, err)
		}
		if name == "json" {
			continue
		}
		details = append(details, Detail{Key: name, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "cannot read metadata of %s: %v", path, err)
	}
	return details, nil
}

// describeText returns the first line of a text database, which by
// convention describes its content.
func describeText(path string) ([]Detail, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrFilesystem, "cannot read %s: %v", path, err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil, nil
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return nil, nil
	}
	return []Detail{{Key: "description", Value: line}}, nil
}
