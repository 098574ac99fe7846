// Package blob is the entry point to energycore's blob storage. Scenario
// datapackages and static result CSVs are read through blob.Store; callers
// never import the backend packages directly.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"energycore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound matches a missing key on every driver.
	ErrNotFound = core.ErrNotFound
	// ErrExists is returned when writing to a taken key.
	ErrExists = core.ErrExists
)

// ReadAll returns the full contents of the blob at key.
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	_, body, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Join builds a slash separated key from its parts.
func Join(parts ...string) string {
	return path.Join(parts...)
}

// Children lists the distinct first-level names below prefix, sorted.
// "oemof_static/a/x.csv" and "oemof_static/b/y.csv" under "oemof_static"
// yield ["a", "b"].
func Children(ctx context.Context, store Store, prefix string) ([]string, error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if !nested || name == "" {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
