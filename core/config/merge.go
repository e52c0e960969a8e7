package config

import (
	"reflect"
)

// DeepMerge overlays the non-zero fields of src onto dst. Structs and maps
// merge recursively, non-empty slices replace, and scalars replace unless
// src holds the zero value. A false bool therefore never clears a true one.
func DeepMerge[T any](dst, src *T) {
	if dst == nil || src == nil {
		return
	}
	mergeValues(reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem())
}

func mergeValues(dst, src reflect.Value) {
	if !dst.CanSet() || !src.IsValid() {
		return
	}

	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			mergeValues(dst.Field(i), src.Field(i))
		}
	case reflect.Map:
		mergeMap(dst, src)
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}

func mergeMap(dst, src reflect.Value) {
	if src.IsNil() {
		return
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}

	iter := src.MapRange()
	for iter.Next() {
		key, srcVal := iter.Key(), iter.Value()
		dstVal := dst.MapIndex(key)
		if !dstVal.IsValid() || (srcVal.Kind() != reflect.Map && srcVal.Kind() != reflect.Struct) {
			dst.SetMapIndex(key, srcVal)
			continue
		}
		merged := reflect.New(dstVal.Type()).Elem()
		merged.Set(dstVal)
		mergeValues(merged, srcVal)
		dst.SetMapIndex(key, merged)
	}
}
