package value

import (
	"strconv"
	"strings"
)

// String renders v the way print shows it: strings and chars appear raw at
// the top level and quoted inside collections.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindChar:
		return string(rune(v.lo))
	}
	var sb strings.Builder
	writeValue(&sb, v, map[any]bool{})
	return sb.String()
}

// Repr renders v with strings and chars quoted.
func (v Value) Repr() string {
	var sb strings.Builder
	writeValue(&sb, v, map[any]bool{})
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value, active map[any]bool) {
	switch k := v.kind; {
	case k == KindNil:
		sb.WriteString("nil")
	case k == KindBool:
		sb.WriteString(strconv.FormatBool(v.lo != 0))
	case k == KindChar:
		sb.WriteString(quoteChar(rune(v.lo)))
	case k == KindString:
		sb.WriteString(strconv.Quote(v.str))
	case k.IsFloat():
		bitSize := 64
		if k == KindF32 {
			bitSize = 32
		}
		sb.WriteString(strconv.FormatFloat(v.AsFloat(), 'g', -1, bitSize))
	case k == KindI128 || k == KindU128:
		sb.WriteString(v.bigInt().String())
	case k.IsSigned():
		sb.WriteString(strconv.FormatInt(int64(v.lo), 10))
	case k.IsInt():
		sb.WriteString(strconv.FormatUint(v.lo, 10))
	case k == KindFunction:
		sb.WriteString("<fn ")
		sb.WriteString(v.str)
		sb.WriteByte('>')
	case active[v.obj]:
		sb.WriteString("...")
	case k == KindArray:
		active[v.obj] = true
		sb.WriteByte('[')
		for i, e := range v.AsArray().Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, e, active)
		}
		sb.WriteByte(']')
		delete(active, v.obj)
	case k == KindMap:
		active[v.obj] = true
		m := v.AsMap()
		sb.WriteByte('{')
		for i, key := range m.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, key, active)
			sb.WriteString(": ")
			writeValue(sb, m.vals[i], active)
		}
		sb.WriteByte('}')
		delete(active, v.obj)
	case k == KindStruct:
		active[v.obj] = true
		s := v.AsStruct()
		sb.WriteString(s.Name)
		sb.WriteByte('{')
		for i, n := range s.FieldNames() {
			if i > 0 {
				sb.WriteString(", ")
			}
			f, _ := s.Field(n)
			sb.WriteString(n)
			sb.WriteString(": ")
			writeValue(sb, f, active)
		}
		sb.WriteByte('}')
		delete(active, v.obj)
	}
}
