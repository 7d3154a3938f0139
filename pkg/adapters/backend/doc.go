// Package backend provides versioning backend implementations and the
// retry decorator shared by all of them.
//
// Implementations:
//   - http: Jupyter server extension endpoints (make-commit, make-revert)
//   - script: local commit/revert shell scripts
//   - memory: versioned in-memory workspace
//
// Every failure is returned as a coded domain error, either
// BACKEND_UNAVAILABLE or BACKEND_PROTOCOL_ERROR.
package backend
