package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// nodeNames maps the "type" discriminator to node types.
var nodeNames = map[string]reflect.Type{
	"let":      reflect.TypeOf(VarDecl{}),
	"const":    reflect.TypeOf(ConstDecl{}),
	"fn":       reflect.TypeOf(FuncDecl{}),
	"struct":   reflect.TypeOf(StructDecl{}),
	"impl":     reflect.TypeOf(ImplDecl{}),
	"block":    reflect.TypeOf(Block{}),
	"if":       reflect.TypeOf(IfStmt{}),
	"while":    reflect.TypeOf(WhileStmt{}),
	"for":      reflect.TypeOf(ForStmt{}),
	"for_in":   reflect.TypeOf(ForInStmt{}),
	"switch":   reflect.TypeOf(SwitchStmt{}),
	"return":   reflect.TypeOf(ReturnStmt{}),
	"assign":   reflect.TypeOf(AssignStmt{}),
	"expr":     reflect.TypeOf(ExprStmt{}),
	"break":    reflect.TypeOf(BreakStmt{}),
	"continue": reflect.TypeOf(ContinueStmt{}),

	"ident":      reflect.TypeOf(Ident{}),
	"int":        reflect.TypeOf(IntLit{}),
	"float":      reflect.TypeOf(FloatLit{}),
	"string":     reflect.TypeOf(StringLit{}),
	"char":       reflect.TypeOf(CharLit{}),
	"bool":       reflect.TypeOf(BoolLit{}),
	"nil":        reflect.TypeOf(NilLit{}),
	"unary":      reflect.TypeOf(UnaryExpr{}),
	"binary":     reflect.TypeOf(BinaryExpr{}),
	"range":      reflect.TypeOf(RangeExpr{}),
	"call":       reflect.TypeOf(CallExpr{}),
	"field":      reflect.TypeOf(FieldExpr{}),
	"index":      reflect.TypeOf(IndexExpr{}),
	"array":      reflect.TypeOf(ArrayLit{}),
	"map":        reflect.TypeOf(MapLit{}),
	"struct_lit": reflect.TypeOf(StructLit{}),
	"group":      reflect.TypeOf(GroupExpr{}),
}

var nodeTypeNames = map[reflect.Type]string{}

var (
	nodeIface = reflect.TypeOf((*Node)(nil)).Elem()
	posType   = reflect.TypeOf(Pos{})
)

func init() {
	for name, t := range nodeNames {
		nodeTypeNames[t] = name
	}
}

// TypeName returns the JSON discriminator of a node.
func TypeName(n Node) string {
	return nodeTypeNames[reflect.TypeOf(n).Elem()]
}

// Parse reads a JSON program from r.
func Parse(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ast: read: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes a JSON program. The top level is either an object with
// a "body" array or a bare array of statements.
func ParseBytes(data []byte) (*Program, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("ast: empty input")
	}
	var body json.RawMessage
	if data[0] == '[' {
		body = data
	} else {
		var top struct {
			Body json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("ast: %w", err)
		}
		body = top.Body
	}
	p := &Program{}
	if err := decodeValue(body, reflect.ValueOf(&p.Body).Elem(), "body"); err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalJSON encodes the program with node discriminators. Output is
// canonical: object members are sorted.
func (p *Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"body": encodeValue(reflect.ValueOf(p.Body))})
}

// UnmarshalJSON decodes a program produced by MarshalJSON or a front end.
func (p *Program) UnmarshalJSON(data []byte) error {
	q, err := ParseBytes(data)
	if err != nil {
		return err
	}
	*p = *q
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// decodeValue fills rv from raw, resolving Stmt and Expr interfaces through
// the "type" member.
func decodeValue(raw json.RawMessage, rv reflect.Value, path string) error {
	if isNull(raw) {
		return nil
	}
	t := rv.Type()
	switch {
	case t.Kind() == reflect.Interface && t.Implements(nodeIface):
		n, err := decodeNode(raw, path)
		if err != nil {
			return err
		}
		nv := reflect.ValueOf(n)
		if !nv.Type().Implements(t) {
			return fmt.Errorf("ast: %s: %s node is not a %s", path, TypeName(n), strings.ToLower(t.Name()))
		}
		rv.Set(nv)
		return nil
	case t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct:
		ptr := reflect.New(t.Elem())
		if err := decodeValue(raw, ptr.Elem(), path); err != nil {
			return err
		}
		rv.Set(ptr)
		return nil
	case t.Kind() == reflect.Slice && needsWalk(t.Elem()):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("ast: %s: %w", path, err)
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		nodes := t.Elem().Kind() == reflect.Interface
		for i, item := range items {
			if nodes && isNull(item) {
				return fmt.Errorf("ast: %s[%d]: null node", path, i)
			}
			if err := decodeValue(item, out.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil
	case t.Kind() == reflect.Struct && t != posType && needsWalk(t):
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("ast: %s: %w", path, err)
		}
		return decodeFields(obj, rv, path)
	}
	if err := json.Unmarshal(raw, rv.Addr().Interface()); err != nil {
		return fmt.Errorf("ast: %s: %w", path, err)
	}
	return nil
}

func decodeFields(obj map[string]json.RawMessage, rv reflect.Value, path string) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == posType {
			p := rv.Field(i)
			for k, field := range map[string]string{"line": "Line", "column": "Column"} {
				if raw, ok := obj[k]; ok {
					if err := json.Unmarshal(raw, p.FieldByName(field).Addr().Interface()); err != nil {
						return fmt.Errorf("ast: %s.%s: %w", path, k, err)
					}
				}
			}
			continue
		}
		name := jsonName(f)
		if name == "" {
			continue
		}
		if raw, ok := obj[name]; ok {
			if err := decodeValue(raw, rv.Field(i), path+"."+name); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeNode(raw json.RawMessage, path string) (Node, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("ast: %s: %w", path, err)
	}
	var name string
	if err := json.Unmarshal(obj["type"], &name); err != nil || name == "" {
		return nil, fmt.Errorf("ast: %s: node without a type", path)
	}
	t, ok := nodeNames[name]
	if !ok {
		return nil, fmt.Errorf("ast: %s: unknown node type %q", path, name)
	}
	ptr := reflect.New(t)
	if err := decodeFields(obj, ptr.Elem(), path); err != nil {
		return nil, err
	}
	return ptr.Interface().(Node), nil
}

// needsWalk reports whether values of t can contain nodes.
func needsWalk(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return t.Implements(nodeIface)
	case reflect.Ptr, reflect.Slice:
		return needsWalk(t.Elem())
	case reflect.Struct:
		if t == posType {
			return false
		}
		for i := 0; i < t.NumField(); i++ {
			if needsWalk(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" || !f.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

// encodeValue turns rv into plain maps and slices, adding discriminators
// to nodes and flattening positions.
func encodeValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return encodeValue(rv.Elem())
	case reflect.Slice:
		if rv.Type().Elem().Kind() != reflect.Interface && !needsWalk(rv.Type().Elem()) {
			return rv.Interface()
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = encodeValue(rv.Index(i))
		}
		return out
	case reflect.Struct:
		if rv.Type() == posType {
			return rv.Interface()
		}
		obj := map[string]any{}
		if name, ok := nodeTypeNames[rv.Type()]; ok {
			obj["type"] = name
		}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Anonymous && f.Type == posType {
				p := rv.Field(i).Interface().(Pos)
				if p.Line != 0 {
					obj["line"] = p.Line
					obj["column"] = p.Column
				}
				continue
			}
			name := jsonName(f)
			if name == "" {
				continue
			}
			if strings.Contains(f.Tag.Get("json"), "omitempty") && rv.Field(i).IsZero() {
				continue
			}
			obj[name] = encodeValue(rv.Field(i))
		}
		return obj
	}
	return rv.Interface()
}
