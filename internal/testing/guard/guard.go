// Package guard switches binaries into test mode when imported from tests.
package guard

import (
	"os"

	"github.com/tourops/tourops/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
}
