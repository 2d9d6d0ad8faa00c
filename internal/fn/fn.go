package fn

import (
	"reflect"
	"runtime"
	"strings"
)

// Name returns the short name of the given function.
func Name(f any) string {
	fnName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	s := strings.Split(fnName, ".")
	fnName = s[len(s)-1]

	return strings.TrimSuffix(fnName, "-fm")
}
