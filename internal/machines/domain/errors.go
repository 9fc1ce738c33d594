package machines

import "errors"

var (
	// ErrInvalidProfile indicates a malformed or incomplete machine profile.
	ErrInvalidProfile = errors.New("machine: invalid profile")
	// ErrInvalidMachineType indicates an unsupported machine type tag.
	ErrInvalidMachineType = errors.New("machine: invalid type")
	// ErrUnknownParameter indicates an unsupported parameter name.
	ErrUnknownParameter = errors.New("machine: unknown parameter")
)
