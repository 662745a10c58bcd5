package history

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrOutOfOrder is returned when a mutation targets a height below the
	// latest known height of a chain.
	ErrOutOfOrder = errors.New("history: height out of order")

	// ErrEmptyChain is returned when removing from a chain with no entries.
	ErrEmptyChain = errors.New("history: chain is empty")

	// ErrInvalidChain is returned by Validate.
	ErrInvalidChain = errors.New("history: invalid chain")
)

func outOfOrder(op string, height, latest int64) error {
	return goerrors.Wrap(ErrOutOfOrder, goerrors.CategoryConflict, fmt.Sprintf("%s at height %d", op, height)).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{"height": height, "latest": latest})
}

func invalid(i int, reason string) error {
	return goerrors.Wrap(ErrInvalidChain, goerrors.CategoryInternal, fmt.Sprintf("entry %d: %s", i, reason)).
		WithSeverity(goerrors.SeverityCritical)
}
