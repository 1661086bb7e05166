package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchivePath returns the object key for an archived conversation
// batch. Keys sort lexicographically by archive time within a connection.
func BuildArchivePath(connectionID string, archivedAt time.Time) (string, error) {
	if err := validatePathComponent(connectionID, "connection id"); err != nil {
		return "", err
	}
	ts := archivedAt.UTC()
	return path.Join(
		"archive",
		connectionID,
		fmt.Sprintf("turns-%s.parquet", ts.Format("20060102T150405Z")),
	), nil
}

// ArchiveKeyOwnedBy reports whether key sits under the connection's archive
// prefix. Cleaned keys only; a traversal segment disowns the key.
func ArchiveKeyOwnedBy(key, connectionID string) bool {
	if validatePathComponent(connectionID, "connection id") != nil {
		return false
	}
	if key != path.Clean(key) {
		return false
	}
	return strings.HasPrefix(key, "archive/"+connectionID+"/")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
