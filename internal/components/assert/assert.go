// Package assert panics on broken wiring, constructors use it to reject missing dependencies.
package assert

import (
	"fmt"
	"reflect"
)

// NotNil panics when value is nil, an interface holding a nil pointer, map, slice, func or
// channel counts as nil too.
func NotNil(value any) {
	if isNil(value) {
		panic(fmt.Sprintf("expected value to be not nil, got %T", value))
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
