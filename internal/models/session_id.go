package models

import "regexp"

// sessionIDPattern restricts ids to characters that are safe in a file name.
// The leading alphanumeric rules out "." and ".." path segments.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidSessionID reports whether id can address a per-session sink
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
