package mirror

import "errors"

// ErrVarMissing is returned when a required path variable was not
// present on the decoded request, matching boring-registry's transport
// error for the same condition.
var ErrVarMissing = errors.New("required variable missing from request")

// ErrInvalidPath marks a structurally invalid request path; ErrorEncoder
// maps it to 400. No decoder in this package returns it: the trailing
// ".json" on the versions document (spec.md §4.6) is enforced by the
// route pattern itself.
var ErrInvalidPath = errors.New("invalid request path")
