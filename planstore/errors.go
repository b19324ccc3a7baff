package planstore

import "errors"

// RepositoryError kinds, kept verbatim from the domain's original error
// set: these outlive any one backend (Postgres here, but the shape holds
// for any plan.Repository implementation).
var (
	ErrItemNotFound        = errors.New("planstore: item not found")
	ErrDuplicateItem       = errors.New("planstore: duplicate item")
	ErrConnectionFailed    = errors.New("planstore: database connection failed")
	ErrSerializationFailed = errors.New("planstore: data serialization failed")
	ErrPermissionDenied    = errors.New("planstore: permission denied")
)
