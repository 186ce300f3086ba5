package table

import (
	"fmt"
)

// Series is a single named, typed, nullable column. Values are stored
// boxed with nil representing null; integers are normalized to int64
// and floats to float64 on construction so the kernels only ever see
// one representation per type tag.
type Series struct {
	name  string
	dtype DType
	vals  []interface{}
}

// NewSeries builds a column of an explicit type. Every non-nil value
// must agree with the declared type after normalization.
func NewSeries(
	name string,
	dtype DType,
	vals []interface{},
) (*Series, error) {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = nil
			continue
		}
		nv, vt := normalize(v)
		if vt != dtype {
			if dtype == TypeFloat && vt == TypeInt {
				out[i] = float64(nv.(int64))
				continue
			}
			return nil, fmt.Errorf(
				"series(%s): value at %d has type %s, want %s",
				name, i, vt.String(), dtype.String(),
			)
		}
		out[i] = nv
	}
	return &Series{name: name, dtype: dtype, vals: out}, nil
}

// NewSeriesAny infers the column type from the first non-null value.
// An all-null input yields a TypeNull column.
func NewSeriesAny(
	name string,
	vals []interface{},
) (*Series, error) {
	dtype := DType(TypeNull)
	for _, v := range vals {
		if v == nil {
			continue
		}
		_, vt := normalize(v)
		if dtype == TypeNull {
			dtype = vt
		} else if vt != dtype {
			if dtype == TypeInt && vt == TypeFloat {
				dtype = TypeFloat
			} else if !(dtype == TypeFloat && vt == TypeInt) {
				return nil, fmt.Errorf(
					"series(%s): mixed value types %s and %s",
					name, dtype.String(), vt.String(),
				)
			}
		}
	}
	if dtype == TypeNull {
		cp := make([]interface{}, len(vals))
		return &Series{name: name, dtype: TypeNull, vals: cp}, nil
	}
	return NewSeries(name, dtype, vals)
}

// normalize boxes a raw value into the canonical representation and
// reports its type tag
func normalize(v interface{}) (interface{}, DType) {
	switch x := v.(type) {
	case bool:
		return x, TypeBool
	case int:
		return int64(x), TypeInt
	case int32:
		return int64(x), TypeInt
	case int64:
		return x, TypeInt
	case float32:
		return float64(x), TypeFloat
	case float64:
		return x, TypeFloat
	case string:
		return x, TypeString
	case []interface{}:
		return x, TypeList
	default:
		return x, -1
	}
}

func (self *Series) Name() string { return self.name }
func (self *Series) Type() DType  { return self.dtype }
func (self *Series) Len() int     { return len(self.vals) }

func (self *Series) IsNull(i int) bool { return self.vals[i] == nil }

func (self *Series) Value(i int) interface{} { return self.vals[i] }

// Values returns a copy of the boxed values, mostly for tests
func (self *Series) Values() []interface{} {
	out := make([]interface{}, len(self.vals))
	copy(out, self.vals)
	return out
}

func (self *Series) Rename(name string) *Series {
	return &Series{name: name, dtype: self.dtype, vals: self.vals}
}

// Cast re-types the column. Int<->float casts convert, anything else
// must already match or be null.
func (self *Series) Cast(dtype DType) (*Series, error) {
	if dtype == self.dtype {
		return self.Rename(self.name), nil
	}
	out := make([]interface{}, len(self.vals))
	for i, v := range self.vals {
		if v == nil {
			continue
		}
		switch {
		case self.dtype == TypeInt && dtype == TypeFloat:
			out[i] = float64(v.(int64))
		case self.dtype == TypeFloat && dtype == TypeInt:
			out[i] = int64(v.(float64))
		case self.dtype == TypeNull:
			// unreachable, all values are null
		default:
			return nil, fmt.Errorf(
				"series(%s): cannot cast %s to %s",
				self.name, self.dtype.String(), dtype.String(),
			)
		}
	}
	return &Series{name: self.name, dtype: dtype, vals: out}, nil
}

// Take gathers rows by index. Index -1 yields a null, which is how the
// join kernel null-fills the unmatched side of an outer join.
func (self *Series) Take(idx []int) *Series {
	out := make([]interface{}, len(idx))
	for i, j := range idx {
		if j < 0 {
			out[i] = nil
		} else {
			out[i] = self.vals[j]
		}
	}
	return &Series{name: self.name, dtype: self.dtype, vals: out}
}

// Head keeps the first n rows
func (self *Series) Head(n int) *Series {
	if n > len(self.vals) {
		n = len(self.vals)
	}
	return &Series{name: self.name, dtype: self.dtype, vals: self.vals[:n]}
}

func (self *Series) sizeBytes() int64 {
	sz := int64(0)
	for _, v := range self.vals {
		sz += valueSize(v)
	}
	return sz
}

func valueSize(v interface{}) int64 {
	switch x := v.(type) {
	case nil:
		return 1
	case bool:
		return 1
	case int64, float64:
		return 8
	case string:
		return int64(len(x))
	case []interface{}:
		sz := int64(0)
		for _, e := range x {
			sz += valueSize(e)
		}
		return sz
	default:
		return 8
	}
}
