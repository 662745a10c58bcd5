package metadata

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrHeightMismatch is returned by Flush when the height being flushed
	// differs from the height the snapshot was cut at.
	ErrHeightMismatch = errors.New("metadata: flush height mismatch")

	// ErrSnapshotInFlight is returned by Snapshot while a previous snapshot
	// has been neither cleared nor restored.
	ErrSnapshotInFlight = errors.New("metadata: snapshot already in flight")
)

func heightMismatch(what string, expected, actual int64) error {
	return goerrors.Wrap(ErrHeightMismatch, goerrors.CategoryConflict, fmt.Sprintf("%s is %d, flushing %d", what, actual, expected)).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{"expected": expected, "actual": actual})
}

func badKind(key Key, want Kind) error {
	return goerrors.New(fmt.Sprintf("metadata key %s is %s, not %s", key, key.Kind(), want), goerrors.CategoryBadInput).
		WithMetadata(map[string]any{"key": string(key)})
}
