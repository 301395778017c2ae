package elastic

import (
	"errors"
	"regexp"
)

var (
	ErrElasticsearch    = errors.New("elasticsearch error")
	ErrNotFound         = errors.New("document not found")
	ErrIndexLocked      = errors.New("index locked")
	ErrBulkIndexFailure = errors.New("bulk index failure")
	ErrUnknownIndex     = errors.New("unknown index")
	ErrInvalidAmendment = errors.New("invalid amendment")
)

// lockPattern matches the block reason of an index set read-only during
// maintenance, e.g. "[FORBIDDEN/12/index read-only / allow delete (api)]".
var lockPattern = regexp.MustCompile(`\[FORBIDDEN/[^/]+/index read-only`)

// IsLockReason reports whether an error reason describes a locked index.
func IsLockReason(reason string) bool {
	return lockPattern.MatchString(reason)
}
