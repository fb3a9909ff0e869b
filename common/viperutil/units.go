/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package viperutil

import (
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var byteSizeRegexp = regexp.MustCompile(`^(?P<size>[0-9]+(\.[0-9]+)?)\s*(?i)(?P<unit>(k|m|g|t)?)(i?b)?$`)

// ParseByteSize converts a size such as "10 MB", "512KB", "2g" or "1048576"
// into bytes. Units are binary multiples.
func ParseByteSize(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	m := byteSizeRegexp.FindStringSubmatch(raw)
	if m == nil {
		return 0, errors.Errorf("invalid byte size '%s'", raw)
	}

	size, err := strconv.ParseFloat(m[byteSizeRegexp.SubexpIndex("size")], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid byte size '%s'", raw)
	}

	switch strings.ToLower(m[byteSizeRegexp.SubexpIndex("unit")]) {
	case "t":
		size *= 1 << 40
	case "g":
		size *= 1 << 30
	case "m":
		size *= 1 << 20
	case "k":
		size *= 1 << 10
	}

	if size > math.MaxUint64 {
		return 0, errors.Errorf("value '%s' overflows uint64", raw)
	}
	return uint64(size), nil
}

// ParseMilliseconds converts a duration such as "2s", "500ms" or a bare
// number of milliseconds into a time.Duration.
func ParseMilliseconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration '%s'", raw)
	}
	return d, nil
}

func unsignedLimit(k reflect.Kind) uint64 {
	switch k {
	case reflect.Uint8:
		return math.MaxUint8
	case reflect.Uint16:
		return math.MaxUint16
	case reflect.Uint32:
		return math.MaxUint32
	case reflect.Int, reflect.Int64:
		return math.MaxInt64
	case reflect.Int32:
		return math.MaxInt32
	default:
		return math.MaxUint64
	}
}

// ByteSizeDecodeHook decodes human readable byte sizes into integer fields.
// Strings that are not sizes are passed through untouched.
func ByteSizeDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String {
		return data, nil
	}
	switch t {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Int, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}

	raw, ok := data.(string)
	if !ok || raw == "" || !byteSizeRegexp.MatchString(strings.TrimSpace(raw)) {
		return data, nil
	}
	size, err := ParseByteSize(raw)
	if err != nil {
		return data, nil
	}
	if size > unsignedLimit(t) {
		return size, errors.Errorf("value '%s' overflows %s", raw, t)
	}
	return size, nil
}

// UnsignedDecodeHook rejects negative numbers bound for unsigned fields,
// which weakly typed decoding would otherwise wrap around.
func UnsignedDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	switch t {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}

	v := reflect.ValueOf(data)
	switch f {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int() < 0 {
			return data, errors.Errorf("value %d must not be negative", v.Int())
		}
	case reflect.Float32, reflect.Float64:
		if v.Float() < 0 {
			return data, errors.Errorf("value %v must not be negative", v.Float())
		}
	}
	return data, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// MillisecondsDecodeHook decodes time.Duration fields from duration strings
// or from numbers expressed in milliseconds.
func MillisecondsDecodeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != durationType {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		return ParseMilliseconds(v)
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case float32:
		return time.Duration(float64(v) * float64(time.Millisecond)), nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case uint64:
		return time.Duration(v) * time.Millisecond, nil
	}
	return data, nil
}
