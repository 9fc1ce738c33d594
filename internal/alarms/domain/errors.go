package alarms

import "errors"

// ErrInvalidPolicy indicates alerting settings that violate their bounds.
var ErrInvalidPolicy = errors.New("alarm: invalid policy")
