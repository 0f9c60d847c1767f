package testutil

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// TestLogLevelEnvName overrides the level test binaries log at.
const TestLogLevelEnvName = "TEST_LOG_LEVEL"

// Test binaries log everything, but only print when run verbosely.
func init() {
	level := logrus.TraceLevel
	if raw, ok := os.LookupEnv(TestLogLevelEnvName); ok {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)

	if !isVerbose(os.Args) {
		logrus.SetOutput(io.Discard)
	}
}

func isVerbose(args []string) bool {
	for _, arg := range args {
		if arg == "-test.v" || strings.HasPrefix(arg, "-test.v=") && arg != "-test.v=false" {
			return true
		}
	}
	return false
}
