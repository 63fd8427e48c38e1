package app

import (
	"os"
	"strconv"
)

// TestModeEnv makes the binaries return from main without starting, so their
// packages can be compiled and exercised under go test.
const TestModeEnv = "TOUROPS_TEST_MODE"

// InTestMode reports whether TOUROPS_TEST_MODE holds a true value ("1", "true", ...).
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
