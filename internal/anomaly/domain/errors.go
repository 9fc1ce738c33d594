package anomaly

import "errors"

var (
	// ErrUnknownTier indicates a tier name that does not exist.
	ErrUnknownTier = errors.New("anomaly: unknown tier")
	// ErrInvalidConfig indicates scorer settings that violate their bounds.
	ErrInvalidConfig = errors.New("anomaly: invalid config")
	// ErrProfileMismatch indicates a reading scored against another machine's profile.
	ErrProfileMismatch = errors.New("anomaly: reading does not belong to profile")
)
