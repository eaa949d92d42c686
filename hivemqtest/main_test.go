//go:build !integration

package hivemqtest

import (
	"testing"

	"go.uber.org/goleak"
)

// Integration runs leave testcontainers' reaper goroutines behind, so leak
// checks only cover unit runs.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
