package hivemq

import "errors"

// Errors returned by the hivemq package. Use errors.Is to test for them.
var (
	// ErrNotStarted is returned by accessors that need a running container.
	ErrNotStarted = errors.New("hivemq: container not started")

	// ErrFileNotFound is returned when a host file handed to an option does not exist.
	ErrFileNotFound = errors.New("hivemq: file does not exist")

	// ErrNotDirectory is returned when an extension directory is a regular file.
	ErrNotDirectory = errors.New("hivemq: not a directory")

	// ErrInvalidLicense is returned for license files not ending in .lic or .elic.
	ErrInvalidLicense = errors.New("hivemq: license file must end with .lic or .elic")

	// ErrInvalidExtension is returned when an extension descriptor is incomplete.
	ErrInvalidExtension = errors.New("hivemq: invalid extension")

	// ErrExtensionToggleTimeout is returned when HiveMQ did not log that an
	// extension was enabled or disabled in time.
	ErrExtensionToggleTimeout = errors.New("hivemq: extension state change timed out")

	// ErrBuildFailed is returned when an extension build exits unsuccessfully.
	ErrBuildFailed = errors.New("hivemq: extension build failed")

	// ErrInvalidTransition is returned for lifecycle calls in the wrong state.
	ErrInvalidTransition = errors.New("hivemq: invalid state transition")
)

const component = "hivemq"
