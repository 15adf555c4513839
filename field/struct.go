package field

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"scripthook/process"
)

// ErrNotPOD is returned for struct types holding Go pointers, strings,
// slices, maps, interfaces or funcs.
var ErrNotPOD = errors.New("type is not plain old data")

// SizeOf is sizeof(T).
func SizeOf[T any]() process.Size {
	var t T
	return process.Size(unsafe.Sizeof(t))
}

// ReadStruct copies a host structure into T.
//
// Fields tagged `pod:"valid_pointer"` (uint64) are zeroed when they do not
// point into mapped memory, and `pod:"char_array"` byte arrays are cleared
// after their first nul.
func ReadStruct[T any](mem process.Memory, addr process.Address, owner Owner) (T, error) {
	var out T
	if err := checkPOD[T](); err != nil {
		return out, err
	}
	if owner == nil || !owner.Valid() {
		return out, fmt.Errorf("struct at %s: %w", addr, ErrOwnerInvalid)
	}

	size := SizeOf[T]()
	if size == 0 {
		return out, nil
	}
	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return out, fmt.Errorf("read struct at %s: %w", addr, err)
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out)), size), data)
	sanitize(reflect.ValueOf(&out).Elem(), mem)
	return out, nil
}

// WriteStruct copies v over the host structure at addr.
func WriteStruct[T any](mem process.Memory, addr process.Address, owner Owner, v T) error {
	if err := checkPOD[T](); err != nil {
		return err
	}
	if owner == nil || !owner.Valid() {
		return fmt.Errorf("struct at %s: %w", addr, ErrOwnerInvalid)
	}

	size := SizeOf[T]()
	if size == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	return mem.WriteMemory(addr, append([]byte(nil), src...))
}

// ReadSlice reads count consecutive elements with one host read.
func ReadSlice[T any](mem process.Memory, addr process.Address, count int, owner Owner) ([]T, error) {
	if err := checkPOD[T](); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative count %d", count)
	}
	if owner == nil || !owner.Valid() {
		return nil, fmt.Errorf("slice at %s: %w", addr, ErrOwnerInvalid)
	}

	size := SizeOf[T]()
	out := make([]T, count)
	if size == 0 || count == 0 {
		return out, nil
	}

	data, err := mem.ReadMemory(addr, size*process.Size(count))
	if err != nil {
		return nil, fmt.Errorf("read %d elements at %s: %w", count, addr, err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), len(data)), data)
	for i := range out {
		sanitize(reflect.ValueOf(&out[i]).Elem(), mem)
	}
	return out, nil
}

func checkPOD[T any]() error {
	t := reflect.TypeFor[T]()
	if typeHasPointers(t) {
		return fmt.Errorf("%s: %w", t, ErrNotPOD)
	}
	return nil
}

func typeHasPointers(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.String, reflect.Chan:
		return true
	case reflect.Array:
		return typeHasPointers(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if typeHasPointers(rt.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

func sanitize(v reflect.Value, mem process.Memory) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}

		kind, _, _ := strings.Cut(t.Field(i).Tag.Get("pod"), ",")
		switch kind {
		case "valid_pointer":
			if f.Kind() == reflect.Uint64 && f.Uint() != 0 && !mem.IsValidAddress(process.Address(f.Uint())) {
				f.SetUint(0)
			}
		case "char_array":
			cleanCharArray(f)
		case "":
			if f.Kind() == reflect.Struct {
				sanitize(f, mem)
			}
		}
	}
}

func cleanCharArray(f reflect.Value) {
	if f.Kind() != reflect.Array || f.Type().Elem().Kind() != reflect.Uint8 {
		return
	}
	foundNull := false
	for i := 0; i < f.Len(); i++ {
		if foundNull {
			f.Index(i).SetUint(0)
		} else if f.Index(i).Uint() == 0 {
			foundNull = true
		}
	}
}

// CString returns the text of a nul-terminated byte array field.
func CString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
