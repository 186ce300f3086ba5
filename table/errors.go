package table

import (
	"errors"
)

// Error taxonomy of the kernels. Everything here is detected eagerly,
// at validation time, before any expensive work is scheduled. Callers
// match with errors.Is.
var (
	// left/right join key lists differ in length
	ErrKeyCountMismatch = errors.New("Mismatch of number of join keys")

	// cross join given explicit keys, or an equi join given none
	ErrInvalidJoinSpec = errors.New("invalid join spec")

	// sort-merge requested for a non-inner join or with
	// null-safe-equal key pairs
	ErrUnsupportedStrategy = errors.New("unsupported join strategy")

	// set aggregation over a non-hashable element type
	ErrUnhashableType = errors.New("unhashable type")

	// concatenation/union against an incompatible schema
	ErrSchemaMismatch = errors.New("schema mismatch")

	// expression resolves to a type an operation cannot accept
	ErrTypeError = errors.New("type error")
)
