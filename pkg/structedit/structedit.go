// Package structedit parses a C-like struct schema and writes field
// values into a byte-addressable memory image, implementing the "struct"
// command's STRUCT.MBR=VALUE grammar.
package structedit

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FieldType is one of the schema's basic scalar types.
type FieldType int

const (
	TypeChar FieldType = iota
	TypeShort
	TypeLong
	TypePointer
	TypeStruct
)

func (t FieldType) size() int {
	switch t {
	case TypeChar:
		return 1
	case TypeShort:
		return 2
	case TypeLong, TypePointer:
		return 4
	}
	return 0
}

// Field describes one member of a struct schema.
type Field struct {
	Name      string
	Type      FieldType
	ArrayLen  int    // 0 means scalar
	StructRef string // set when Type == TypeStruct
}

// Struct is a parsed schema: an ordered list of fields, offsets computed
// assuming packed (no padding) layout, matching the original tool.
type Struct struct {
	Name   string
	Fields []Field
}

// Registry holds every struct definition parsed so far, so "struct
// OTHER name;" members can resolve across schema files.
type Registry struct {
	structs map[string]*Struct
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{structs: make(map[string]*Struct)}
}

// Define registers a parsed struct under its name.
func (r *Registry) Define(s *Struct) {
	r.structs[s.Name] = s
}

// Size returns the packed byte size of the named struct.
func (r *Registry) Size(name string) (int, error) {
	s, ok := r.structs[name]
	if !ok {
		return 0, fmt.Errorf("structedit: unknown struct %q", name)
	}
	total := 0
	for _, f := range s.Fields {
		sz, err := r.fieldSize(f)
		if err != nil {
			return 0, err
		}
		total += sz
	}
	return total, nil
}

// FieldSize returns the packed byte size of f, resolving nested struct
// references and array lengths the way Size does for a whole struct.
func (r *Registry) FieldSize(f Field) (int, error) {
	return r.fieldSize(f)
}

func (r *Registry) fieldSize(f Field) (int, error) {
	var base int
	if f.Type == TypeStruct {
		sz, err := r.Size(f.StructRef)
		if err != nil {
			return 0, err
		}
		base = sz
	} else {
		base = f.Type.size()
	}
	if f.ArrayLen > 0 {
		return base * f.ArrayLen, nil
	}
	return base, nil
}

// Offset returns the byte offset of member within the named struct.
func (r *Registry) Offset(structName, member string) (int, Field, error) {
	s, ok := r.structs[structName]
	if !ok {
		return 0, Field{}, fmt.Errorf("structedit: unknown struct %q", structName)
	}
	offset := 0
	for _, f := range s.Fields {
		if f.Name == member {
			return offset, f, nil
		}
		sz, err := r.fieldSize(f)
		if err != nil {
			return 0, Field{}, err
		}
		offset += sz
	}
	return 0, Field{}, fmt.Errorf("structedit: %s has no member %q", structName, member)
}

// Memory is the byte-addressable target image the editor writes into: a
// host-process byte slice standing in for the target's RAM, addressed
// relative to a configurable base.
type Memory struct {
	Base  uint32
	Bytes []byte
}

func (m *Memory) at(addr uint32) ([]byte, error) {
	if addr < m.Base || int(addr-m.Base) >= len(m.Bytes) {
		return nil, fmt.Errorf("structedit: address 0x%x out of range", addr)
	}
	return m.Bytes[addr-m.Base:], nil
}

// WriteInt writes an integer value of the field's size at base+offset,
// little-endian (the struct editor does not care about endianness beyond
// "whatever the target CPU uses"; the host simulator fixes it at LE).
func (m *Memory) WriteInt(addr uint32, size int, value uint32) error {
	buf, err := m.at(addr)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, value)
	default:
		return fmt.Errorf("structedit: unsupported int size %d", size)
	}
	return nil
}

// WriteBytes copies raw bytes (e.g. from strcpy/memcpy) at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	buf, err := m.at(addr)
	if err != nil {
		return err
	}
	if len(data) > len(buf) {
		return fmt.Errorf("structedit: write of %d bytes overruns memory at 0x%x", len(data), addr)
	}
	copy(buf, data)
	return nil
}

// EvalValue interprets the right-hand side of STRUCT.MBR=VALUE: a literal
// integer, or one of the pseudo-functions sizeof/strcpy/strcat/memcpy/
// i2l/e2b/tagsiz.
func (r *Registry) EvalValue(expr string) (intVal uint32, raw []byte, err error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "sizeof(") && strings.HasSuffix(expr, ")"):
		name := expr[len("sizeof(") : len(expr)-1]
		sz, err := r.Size(name)
		return uint32(sz), nil, err
	case strings.HasPrefix(expr, "strcpy(") && strings.HasSuffix(expr, ")"):
		s := unquote(expr[len("strcpy(") : len(expr)-1])
		return 0, append([]byte(s), 0), nil
	case strings.HasPrefix(expr, "strcat(") && strings.HasSuffix(expr, ")"):
		s := unquote(expr[len("strcat(") : len(expr)-1])
		return 0, []byte(s), nil
	case strings.HasPrefix(expr, "memcpy(") && strings.HasSuffix(expr, ")"):
		inner := expr[len("memcpy(") : len(expr)-1]
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return 0, nil, fmt.Errorf("structedit: malformed memcpy(...)")
		}
		src := unquote(strings.TrimSpace(parts[0]))
		n, convErr := strconv.Atoi(strings.TrimSpace(parts[1]))
		if convErr != nil {
			return 0, nil, fmt.Errorf("structedit: bad memcpy length: %w", convErr)
		}
		b := []byte(src)
		if n > len(b) {
			n = len(b)
		}
		return 0, b[:n], nil
	case strings.HasPrefix(expr, "i2l(") && strings.HasSuffix(expr, ")"):
		ipStr := expr[len("i2l(") : len(expr)-1]
		ip := net.ParseIP(ipStr).To4()
		if ip == nil {
			return 0, nil, fmt.Errorf("structedit: bad IP %q", ipStr)
		}
		return binary.BigEndian.Uint32(ip), nil, nil
	case strings.HasPrefix(expr, "e2b(") && strings.HasSuffix(expr, ")"):
		macStr := expr[len("e2b(") : len(expr)-1]
		mac, err := net.ParseMAC(macStr)
		if err != nil {
			return 0, nil, fmt.Errorf("structedit: bad MAC %q: %w", macStr, err)
		}
		return 0, []byte(mac), nil
	case strings.HasPrefix(expr, "tagsiz(") && strings.HasSuffix(expr, ")"):
		inner := expr[len("tagsiz(") : len(expr)-1]
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return 0, nil, fmt.Errorf("structedit: malformed tagsiz(...)")
		}
		a, err := r.Size(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, nil, err
		}
		b, err := r.Size(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, nil, err
		}
		return uint32((a + b) / 4), nil, nil
	default:
		v, err := strconv.ParseUint(expr, 0, 32)
		if err != nil {
			return 0, nil, fmt.Errorf("structedit: bad literal %q: %w", expr, err)
		}
		return uint32(v), nil, nil
	}
}

// ParseSchema parses the textual struct schema format read by the "struct"
// command's -f flag: a sequence of
//
//	struct NAME {
//	    TYPE NAME;
//	    struct OTHER NAME;
//	    TYPE NAME[N];
//	    TYPE *NAME;
//	};
//
// blocks. Types are long/short/char; offsets are packed, no padding.
func ParseSchema(text string) ([]*Struct, error) {
	var structs []*Struct
	var cur *Struct
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if cur == nil {
			if !strings.HasPrefix(line, "struct ") {
				continue
			}
			rest := strings.TrimSpace(strings.TrimPrefix(line, "struct "))
			name, ok := strings.CutSuffix(rest, "{")
			if !ok {
				return nil, fmt.Errorf("structedit: expected '{' after struct name in %q", line)
			}
			cur = &Struct{Name: strings.TrimSpace(name)}
			continue
		}
		if line == "};" || line == "}" {
			structs = append(structs, cur)
			cur = nil
			continue
		}
		field, err := parseSchemaField(line)
		if err != nil {
			return nil, err
		}
		cur.Fields = append(cur.Fields, field)
	}
	if cur != nil {
		return nil, fmt.Errorf("structedit: unterminated struct %q", cur.Name)
	}
	return structs, nil
}

func parseSchemaField(line string) (Field, error) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ";")
	if line == "" {
		return Field{}, fmt.Errorf("structedit: empty field declaration")
	}

	if strings.HasPrefix(line, "struct ") {
		rest := strings.Fields(strings.TrimSpace(strings.TrimPrefix(line, "struct ")))
		if len(rest) != 2 {
			return Field{}, fmt.Errorf("structedit: malformed struct member %q", line)
		}
		return Field{Name: rest[1], Type: TypeStruct, StructRef: rest[0]}, nil
	}

	parts := strings.Fields(line)
	if len(parts) != 2 {
		return Field{}, fmt.Errorf("structedit: malformed field %q", line)
	}
	typ, err := parseSchemaType(parts[0])
	if err != nil {
		return Field{}, err
	}

	name := parts[1]
	arrayLen := 0
	switch {
	case strings.HasPrefix(name, "*"):
		typ = TypePointer
		name = strings.TrimPrefix(name, "*")
	case strings.ContainsRune(name, '['):
		open := strings.IndexByte(name, '[')
		close := strings.IndexByte(name, ']')
		if close < open {
			return Field{}, fmt.Errorf("structedit: malformed array member %q", line)
		}
		n, err := strconv.Atoi(name[open+1 : close])
		if err != nil {
			return Field{}, fmt.Errorf("structedit: bad array length in %q: %w", line, err)
		}
		arrayLen = n
		name = name[:open]
	}

	return Field{Name: name, Type: typ, ArrayLen: arrayLen}, nil
}

func parseSchemaType(s string) (FieldType, error) {
	switch s {
	case "long":
		return TypeLong, nil
	case "short":
		return TypeShort, nil
	case "char":
		return TypeChar, nil
	default:
		return 0, fmt.Errorf("structedit: unknown type %q", s)
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return s
}
