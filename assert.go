package chaindb

import "fmt"

// assert panics with a formatted message when cond is false. Adapted from
// the teacher's util.go Assert helper; used for the caller-bug conditions
// spec.md §4.4 says must panic (out-of-range nibbles, malformed internal
// state this package itself would never produce).
func assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
