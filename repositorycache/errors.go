package repositorycache

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/store"
)

var (
	// ErrNotFound is returned when an entity does not exist or has been
	// removed.
	ErrNotFound = store.ErrNotFound

	// ErrStaleHeight is returned when a mutation targets a height that a
	// snapshot has already cut.
	ErrStaleHeight = errors.New("repositorycache: mutation at or below the flushed height")

	// ErrHeightMismatch is returned by Flush when the height being flushed
	// differs from the height the snapshot was cut at.
	ErrHeightMismatch = errors.New("repositorycache: flush height mismatch")
)

func staleHeight(name string, height, cut int64) error {
	return goerrors.Wrap(ErrStaleHeight, goerrors.CategoryConflict, fmt.Sprintf("%s mutated at height %d", name, height)).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{"entity": name, "height": height, "cut": cut})
}

func heightMismatch(name string, expected, actual int64) error {
	return goerrors.Wrap(ErrHeightMismatch, goerrors.CategoryConflict, fmt.Sprintf("%s snapshot cut at %d, flushing %d", name, actual, expected)).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{"entity": name, "expected": expected, "actual": actual})
}

func notFound(name, id string) error {
	return goerrors.Wrap(ErrNotFound, goerrors.CategoryNotFound, fmt.Sprintf("%s %s", name, id)).
		WithMetadata(map[string]any{"entity": name, "id": id})
}
