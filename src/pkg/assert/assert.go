package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics with the caller position when condition does not hold.
// The first optional argument is a format string for the rest.
func Assert(condition bool, args ...any) bool {
	if condition {
		return true
	}

	fail(2, args...)

	return false
}

// Unreachable marks a code path that an invariant rules out.
func Unreachable(args ...any) {
	fail(2, args...)
}

func NoError(err error) {
	if err != nil {
		fail(2, "expected no error, got: %v", err)
	}
}

func fail(skip int, args ...any) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "unknown"
		line = 0
	}

	filename := filepath.Base(file)

	if len(args) > 0 {
		format, isString := args[0].(string)
		if !isString {
			format = fmt.Sprint(args[0])
		}

		message := fmt.Sprintf(format, args[1:]...)
		panic(fmt.Sprintf("Assertion failed: %s at %s:%d\n", message, filename, line))
	}

	panic(fmt.Sprintf("Assertion failed at %s:%d\n", filename, line))
}
