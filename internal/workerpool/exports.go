package workerpool

import (
	"reflect"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Cloner lets an exported object control how it is copied into a worker.
// Objects holding cycles, locks or handles should implement it.
type Cloner interface {
	Clone() any
}

var (
	clonerType = reflect.TypeOf((*Cloner)(nil)).Elem()
	valueType  = reflect.TypeOf(domain.Value{})
)

// CopyExports returns a deep copy of src. Maps, slices, arrays, pointers and
// exported struct fields are copied recursively; channels and functions are
// shared.
func CopyExports(src domain.Exports) domain.Exports {
	dst := make(domain.Exports, len(src))
	for k, v := range src {
		if v == nil {
			dst[k] = nil
			continue
		}
		dst[k] = copyValue(reflect.ValueOf(v)).Interface()
	}
	return dst
}

func copyValue(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	if v.CanInterface() && v.Type().Implements(clonerType) && !isNil(v) {
		if c, ok := v.Interface().(Cloner); ok {
			cloned := reflect.ValueOf(c.Clone())
			if cloned.IsValid() && cloned.Type().AssignableTo(v.Type()) {
				return cloned
			}
		}
	}
	if v.Type() == valueType && v.CanInterface() {
		return reflect.ValueOf(v.Interface().(domain.Value).Clone())
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		dst := reflect.New(v.Elem().Type())
		dst.Elem().Set(copyValue(v.Elem()))
		return dst
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		dst := reflect.New(v.Type()).Elem()
		dst.Set(copyValue(v.Elem()))
		return dst
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		dst := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			dst.Index(i).Set(copyValue(v.Index(i)))
		}
		return dst
	case reflect.Array:
		dst := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			dst.Index(i).Set(copyValue(v.Index(i)))
		}
		return dst
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		dst := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			dst.SetMapIndex(copyValue(iter.Key()), copyValue(iter.Value()))
		}
		return dst
	case reflect.Struct:
		dst := reflect.New(v.Type()).Elem()
		dst.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if dst.Field(i).CanSet() {
				dst.Field(i).Set(copyValue(v.Field(i)))
			}
		}
		return dst
	default:
		return v
	}
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
