package bytecode

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/chazu/widow/pkg/value"
)

// Serialize encodes the program to the WDBC artifact format.
// Format:
//
//	[magic:4] [version:2]
//	[chunk_count:2] [chunks:...]
//	[struct_count:2] [structs:...]
//	[method_count:2] [methods:...] (sorted by key)
//
// Each chunk:
//
//	[name] [code_len:4] [code:...]
//	[const_count:2] [constants:...]
//	[param_count:1] [params:...] [param_types:...]
//	[returns:2] [receiver] [has_self:1]
//	[scope_count:2] [scopes:...]
//	[source_map_count:4] [source_map:...]
//
// Strings are [len:2] [bytes:...]. Constants are [kind:1] followed by a
// kind-specific payload.
func (p *Program) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 256)

	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, p.Version)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Chunks)))
	for _, c := range p.Chunks {
		var err error
		if buf, err = c.appendTo(buf); err != nil {
			return nil, fmt.Errorf("chunk %q: %w", c.Name, err)
		}
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Structs)))
	for _, s := range p.Structs {
		buf = appendString(buf, s.Name)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Fields)))
		for _, f := range s.Fields {
			buf = appendString(buf, f.Name)
			buf = appendString(buf, f.Type)
		}
	}

	keys := make([]string, 0, len(p.Methods))
	for k := range p.Methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = binary.BigEndian.AppendUint16(buf, uint16(p.Methods[k]))
	}

	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func (c *Chunk) appendTo(buf []byte) ([]byte, error) {
	buf = appendString(buf, c.Name)

	// Code section
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	// Constants
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for i, k := range c.Constants {
		if !k.IsConstant() {
			return nil, fmt.Errorf("constant %d: %s values cannot be serialized", i, k.Kind())
		}
		kind, lo, hi, str := k.Raw()
		buf = append(buf, byte(kind))
		switch {
		case kind == value.KindString || kind == value.KindFunction:
			buf = appendString(buf, str)
			buf = binary.BigEndian.AppendUint64(buf, lo)
		case kind == value.KindI128 || kind == value.KindU128:
			buf = binary.BigEndian.AppendUint64(buf, lo)
			buf = binary.BigEndian.AppendUint64(buf, hi)
		case kind != value.KindNil:
			buf = binary.BigEndian.AppendUint64(buf, lo)
		}
	}

	// Parameters
	buf = append(buf, byte(len(c.Params)))
	for i, name := range c.Params {
		buf = appendString(buf, name)
		typ := ""
		if i < len(c.ParamTypes) {
			typ = c.ParamTypes[i]
		}
		buf = appendString(buf, typ)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(int16(c.Returns)))
	buf = appendString(buf, c.Receiver)
	if c.HasSelf {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	// Scope layouts
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Scopes)))
	for _, sc := range c.Scopes {
		buf = appendString(buf, sc.Name)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(sc.Slots)))
		for _, s := range sc.Slots {
			buf = appendString(buf, s)
		}
	}

	// Source map
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.SourceMap)))
	for _, loc := range c.SourceMap {
		buf = binary.BigEndian.AppendUint32(buf, loc.BytecodeOffset)
		buf = binary.BigEndian.AppendUint32(buf, loc.Line)
		buf = binary.BigEndian.AppendUint16(buf, loc.Column)
	}
	return buf, nil
}

// decoder walks a WDBC artifact. The first failure sticks.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) need(n int, what string) bool {
	if d.err != nil {
		return false
	}
	if d.pos+n > len(d.data) {
		d.err = fmt.Errorf("unexpected end of bytecode reading %s at pos %d", what, d.pos)
		return false
	}
	return true
}

func (d *decoder) u8(what string) uint8 {
	if !d.need(1, what) {
		return 0
	}
	b := d.data[d.pos]
	d.pos++
	return b
}

func (d *decoder) u16(what string) uint16 {
	if !d.need(2, what) {
		return 0
	}
	x := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return x
}

func (d *decoder) u32(what string) uint32 {
	if !d.need(4, what) {
		return 0
	}
	x := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return x
}

func (d *decoder) u64(what string) uint64 {
	if !d.need(8, what) {
		return 0
	}
	x := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return x
}

func (d *decoder) bytes(n int, what string) []byte {
	if !d.need(n, what) {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.data[d.pos:d.pos+n])
	d.pos += n
	return out
}

func (d *decoder) str(what string) string {
	n := d.u16(what + " length")
	return string(d.bytes(int(n), what))
}

// Deserialize decodes a WDBC artifact and validates the result.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bytecode too short: need at least 6 bytes, got %d", len(data))
	}
	if string(data[0:4]) != string(BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	d := &decoder{data: data, pos: 4}
	p := NewProgram()
	p.Version = d.u16("version")
	if p.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", p.Version, BytecodeVersion)
	}

	nChunks := d.u16("chunk count")
	for i := 0; i < int(nChunks) && d.err == nil; i++ {
		p.Chunks = append(p.Chunks, d.chunk())
	}

	nStructs := d.u16("struct count")
	for i := 0; i < int(nStructs) && d.err == nil; i++ {
		s := StructSchema{Name: d.str("struct name")}
		nFields := d.u16("field count")
		for j := 0; j < int(nFields) && d.err == nil; j++ {
			s.Fields = append(s.Fields, StructField{Name: d.str("field name"), Type: d.str("field type")})
		}
		p.Structs = append(p.Structs, s)
	}

	nMethods := d.u16("method count")
	for i := 0; i < int(nMethods) && d.err == nil; i++ {
		k := d.str("method key")
		p.Methods[k] = int(d.u16("method chunk"))
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.pos != len(data) {
		return nil, fmt.Errorf("trailing %d bytes after bytecode", len(data)-d.pos)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *decoder) chunk() *Chunk {
	c := NewChunk(d.str("chunk name"))

	codeLen := d.u32("code length")
	c.Code = d.bytes(int(codeLen), "code section")

	nConst := d.u16("constant count")
	for i := 0; i < int(nConst) && d.err == nil; i++ {
		kind := value.Kind(d.u8("constant kind"))
		var lo, hi uint64
		var str string
		switch {
		case kind == value.KindString || kind == value.KindFunction:
			str = d.str("constant string")
			lo = d.u64("constant payload")
		case kind == value.KindI128 || kind == value.KindU128:
			lo = d.u64("constant low word")
			hi = d.u64("constant high word")
		case kind != value.KindNil:
			lo = d.u64("constant payload")
		}
		v, err := value.FromRaw(kind, lo, hi, str)
		if err != nil && d.err == nil {
			d.err = fmt.Errorf("constant %d: %w", i, err)
		}
		c.Constants = append(c.Constants, v)
	}

	nParams := d.u8("param count")
	for i := 0; i < int(nParams) && d.err == nil; i++ {
		c.Params = append(c.Params, d.str("param name"))
		c.ParamTypes = append(c.ParamTypes, d.str("param type"))
	}

	c.Returns = int(int16(d.u16("return arity")))
	c.Receiver = d.str("receiver")
	c.HasSelf = d.u8("self flag") != 0

	nScopes := d.u16("scope count")
	for i := 0; i < int(nScopes) && d.err == nil; i++ {
		sc := ScopeLayout{Name: d.str("scope name")}
		nSlots := d.u16("slot count")
		for j := 0; j < int(nSlots) && d.err == nil; j++ {
			sc.Slots = append(sc.Slots, d.str("slot name"))
		}
		c.Scopes = append(c.Scopes, sc)
	}

	nLocs := d.u32("source map count")
	for i := 0; i < int(nLocs) && d.err == nil; i++ {
		c.SourceMap = append(c.SourceMap, SourceLocation{
			BytecodeOffset: d.u32("source offset"),
			Line:           d.u32("source line"),
			Column:         d.u16("source column"),
		})
	}
	return c
}
