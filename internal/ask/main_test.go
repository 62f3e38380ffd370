package ask

import (
	"testing"

	"go.uber.org/goleak"
)

// The query pipeline spawns no goroutines of its own; any leak here points
// at a stub or a forgotten context cancellation.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
