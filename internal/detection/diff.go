// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package detection

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

// PrimaryField describes the field that drives the change type of a category.
type PrimaryField struct {
	Name    string
	Numeric bool
}

// primaryFields maps each category to its primary field.
var primaryFields = map[models.Category]PrimaryField{
	models.CategoryInventory: {Name: "quantity", Numeric: true},
	models.CategoryOrders:    {Name: "status", Numeric: false},
	models.CategoryActivity:  {Name: "count", Numeric: true},
	models.CategorySystem:    {Name: "value", Numeric: true},
}

// PrimaryFieldOf returns the primary field of c.
func PrimaryFieldOf(c models.Category) PrimaryField {
	return primaryFields[c]
}

// Diff compares a new sample with the previous one. prev is nil for an
// entity seen for the first time. changed is false when both field sets
// are equal after normalization.
func Diff(c models.Category, prev, next models.Fields) (ct models.ChangeType, changed bool, err error) {
	if prev == nil {
		return models.ChangeInitial, true, nil
	}
	if FieldsEqual(prev, next) {
		return "", false, nil
	}

	pf := PrimaryFieldOf(c)
	oldV, newV := prev[pf.Name], next[pf.Name]

	if !pf.Numeric {
		if ValuesEqual(oldV, newV) {
			return models.ChangeNoChange, true, nil
		}
		return models.ChangeTransition, true, nil
	}

	nf, ok := toFloat(newV)
	if !ok {
		return "", false, fmt.Errorf("%s field %q is not numeric: %v", c, pf.Name, newV)
	}
	of, ok := toFloat(oldV)
	if !ok {
		// Previously absent or non-numeric.
		return models.ChangeTransition, true, nil
	}
	switch {
	case nf > of:
		return models.ChangeIncrease, true, nil
	case nf < of:
		return models.ChangeDecrease, true, nil
	default:
		return models.ChangeNoChange, true, nil
	}
}

// FieldsEqual compares two field sets with numeric and time normalization,
// so a snapshot restored from JSON equals the row it was taken from.
func FieldsEqual(a, b models.Fields) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two field values after normalization.
func ValuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func normalizeValue(v interface{}) interface{} {
	if f, ok := toFloat(v); ok {
		return f
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC().Format(time.RFC3339Nano)
		}
		return t
	case []byte:
		return string(t)
	default:
		return v
	}
}

// toFloat converts Go numeric kinds. NaN is treated as non-numeric.
func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Number returns the named field as a float64.
func Number(f models.Fields, name string) (float64, bool) {
	return toFloat(f[name])
}

// entityID extracts the key column as a string.
func entityID(row models.Fields, keyColumn string) (string, error) {
	v, ok := row[keyColumn]
	if !ok || v == nil {
		return "", fmt.Errorf("row has no %q column", keyColumn)
	}
	var id string
	switch t := v.(type) {
	case string:
		id = t
	case []byte:
		id = string(t)
	default:
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			id = fmt.Sprintf("%d", int64(f))
		} else {
			id = fmt.Sprint(v)
		}
	}
	if id == "" {
		return "", fmt.Errorf("empty %q column", keyColumn)
	}
	return id, nil
}
