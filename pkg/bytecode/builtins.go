package bytecode

import "github.com/chazu/widow/pkg/value"

// Builtin identifies a host-provided function reachable through
// OpCallBuiltin.
type Builtin uint8

const (
	BuiltinPrint Builtin = iota
	BuiltinLen
	BuiltinPush
	BuiltinPop
	BuiltinKeys
	BuiltinValues
	BuiltinHas
	BuiltinRemove
	BuiltinStr
	BuiltinType
	BuiltinClone

	// builtinConvert is the first numeric conversion builtin; one follows
	// per numeric kind, in kind order.
	builtinConvert
)

type builtinInfo struct {
	name  string
	arity int // -1 means variadic
}

var builtinTable = []builtinInfo{
	BuiltinPrint:  {"print", -1},
	BuiltinLen:    {"len", 1},
	BuiltinPush:   {"push", 2},
	BuiltinPop:    {"pop", 1},
	BuiltinKeys:   {"keys", 1},
	BuiltinValues: {"values", 1},
	BuiltinHas:    {"has", 2},
	BuiltinRemove: {"remove", 2},
	BuiltinStr:    {"str", 1},
	BuiltinType:   {"type", 1},
	BuiltinClone:  {"clone", 1},
}

var builtinByName = map[string]Builtin{}

func init() {
	for k := value.KindI8; k <= value.KindFsize; k++ {
		builtinTable = append(builtinTable, builtinInfo{k.String(), 1})
	}
	for i, b := range builtinTable {
		builtinByName[b.name] = Builtin(i)
	}
}

// LookupBuiltin finds a builtin by its source name.
func LookupBuiltin(name string) (Builtin, bool) {
	b, ok := builtinByName[name]
	return b, ok
}

func (b Builtin) String() string {
	if int(b) < len(builtinTable) {
		return builtinTable[b].name
	}
	return "<unknown builtin>"
}

// Arity is the number of arguments b accepts, or -1 when variadic.
func (b Builtin) Arity() int {
	if int(b) < len(builtinTable) {
		return builtinTable[b].arity
	}
	return 0
}

// Valid reports whether b names a builtin.
func (b Builtin) Valid() bool { return int(b) < len(builtinTable) }

// ConversionKind returns the target kind of a numeric conversion builtin.
func (b Builtin) ConversionKind() (value.Kind, bool) {
	if b < builtinConvert || !b.Valid() {
		return value.KindNil, false
	}
	return value.KindI8 + value.Kind(b-builtinConvert), true
}
