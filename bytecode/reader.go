package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Stream markers.
const (
	StreamTag uint16 = 0xFAFA
	TagHead   uint32 = 0x53514952 // "SQIR"
	TagPart   uint32 = 0x50415254 // "PART"
	TagTail   uint32 = 0x4C494154 // "TAIL"
)

var (
	// ErrFormat is the root of every decoding failure.
	ErrFormat = errors.New("invalid squirrel bytecode")

	ErrUnexpectedEOF = fmt.Errorf("%w: %w", ErrFormat, io.ErrUnexpectedEOF)
	ErrInvalidMagic  = fmt.Errorf("%w: bad stream header", ErrFormat)
	ErrMissingPart   = fmt.Errorf("%w: missing PART marker", ErrFormat)
	ErrUnknownObject = fmt.Errorf("%w: unknown object type", ErrFormat)
	ErrBadCount      = fmt.Errorf("%w: invalid element count", ErrFormat)
)

// ParseFile reads and decodes a compiled Squirrel file.
func ParseFile(path string) (*Prototype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return ParseBytes(data)
}

// Parse decodes a compiled Squirrel stream from r.
func Parse(r io.Reader) (*Prototype, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// ParseBytes decodes a compiled Squirrel stream held in memory.
func ParseBytes(data []byte) (*Prototype, error) {
	r := &reader{data: data}

	tag, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if tag != StreamTag {
		return nil, fmt.Errorf("%w: stream tag 0x%04X", ErrInvalidMagic, tag)
	}
	head, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if head != TagHead {
		return nil, fmt.Errorf("%w: head tag 0x%08X", ErrInvalidMagic, head)
	}
	// sizeof(char), sizeof(integer), sizeof(float): recorded but unused.
	for range 3 {
		if _, err := r.readUint32(); err != nil {
			return nil, err
		}
	}

	return r.readFunction(nil)
}

type reader struct {
	data   []byte
	offset int
}

func (r *reader) remaining() int { return len(r.data) - r.offset }

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, fmt.Errorf("%w at offset %d", ErrUnexpectedEOF, r.offset)
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) readUint8() (uint8, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readInt32() (int32, error) {
	v, err := r.readUint32()
	return int32(v), err
}

func (r *reader) expectPart() error {
	at := r.offset
	tag, err := r.readUint32()
	if err != nil {
		return err
	}
	if tag != TagPart {
		return fmt.Errorf("%w at offset %d: found 0x%08X", ErrMissingPart, at, tag)
	}
	return nil
}

// readCount reads an element count and rejects values that could not fit
// in the rest of the stream given the minimum element size.
func (r *reader) readCount(what string, minSize int) (int, error) {
	at := r.offset
	n, err := r.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 || int64(n)*int64(minSize) > int64(r.remaining()) {
		return 0, fmt.Errorf("%w: %d %s at offset %d", ErrBadCount, n, what, at)
	}
	return int(n), nil
}

func (r *reader) readValue() (Value, error) {
	at := r.offset
	raw, err := r.readUint32()
	if err != nil {
		return Value{}, err
	}
	switch t := ObjectType(raw); t {
	case TypeNull:
		return Null(), nil
	case TypeInteger:
		v, err := r.readInt32()
		return Int(v), err
	case TypeFloat:
		v, err := r.readUint32()
		return Float(math.Float32frombits(v)), err
	case TypeBool:
		v, err := r.readUint32()
		return Bool(v != 0), err
	case TypeString:
		n, err := r.readInt32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return Value{}, err
		}
		return Str(string(b)), nil
	default:
		return Value{}, fmt.Errorf("%w 0x%08X at offset %d", ErrUnknownObject, raw, at)
	}
}

func (r *reader) readValues(n int) ([]Value, error) {
	vals := make([]Value, n)
	for i := range vals {
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

type counts struct {
	literals, params, outers, locals, lines, defaults, instructions, functions int
}

func (r *reader) readCounts() (counts, error) {
	var c counts
	fields := []struct {
		dst  *int
		name string
		min  int
	}{
		{&c.literals, "literals", 4},
		{&c.params, "parameters", 4},
		{&c.outers, "outer values", 12},
		{&c.locals, "local variables", 16},
		{&c.lines, "line infos", 8},
		{&c.defaults, "default parameters", 4},
		{&c.instructions, "instructions", 8},
		{&c.functions, "functions", 8},
	}
	for _, f := range fields {
		n, err := r.readCount(f.name, f.min)
		if err != nil {
			return c, err
		}
		*f.dst = n
	}
	return c, nil
}

func (r *reader) readFunction(parent *Prototype) (*Prototype, error) {
	p := &Prototype{Parent: parent}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	var err error
	if p.SourceName, err = r.readValue(); err != nil {
		return nil, fmt.Errorf("source name: %w", err)
	}
	if p.Name, err = r.readValue(); err != nil {
		return nil, fmt.Errorf("function name: %w", err)
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	c, err := r.readCounts()
	if err != nil {
		return nil, err
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	if p.Literals, err = r.readValues(c.literals); err != nil {
		return nil, fmt.Errorf("literals: %w", err)
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	if p.Parameters, err = r.readValues(c.params); err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	p.OuterVars = make([]OuterVar, c.outers)
	for i := range p.OuterVars {
		kind, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		src, err := r.readValue()
		if err != nil {
			return nil, err
		}
		name, err := r.readValue()
		if err != nil {
			return nil, err
		}
		p.OuterVars[i] = OuterVar{Kind: OuterKind(kind), Src: src, Name: name}
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	p.LocalVars = make([]LocalVar, c.locals)
	for i := range p.LocalVars {
		name, err := r.readValue()
		if err != nil {
			return nil, err
		}
		var fields [3]uint32
		for j := range fields {
			if fields[j], err = r.readUint32(); err != nil {
				return nil, err
			}
		}
		p.LocalVars[i] = LocalVar{Name: name, Pos: fields[0], StartOp: fields[1], EndOp: fields[2]}
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	p.Lines = make([]LineInfo, c.lines)
	for i := range p.Lines {
		line, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		op, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		p.Lines[i] = LineInfo{Line: line, Op: op}
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	p.DefaultParams = make([]int32, c.defaults)
	for i := range p.DefaultParams {
		if p.DefaultParams[i], err = r.readInt32(); err != nil {
			return nil, err
		}
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	p.Instructions = make([]Instruction, c.instructions)
	for i := range p.Instructions {
		b, err := r.readBytes(8)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		p.Instructions[i] = Instruction{
			Pos:  i,
			Arg1: int32(binary.LittleEndian.Uint32(b[0:4])),
			Op:   Opcode(b[4]),
			Arg0: b[5],
			Arg2: b[6],
			Arg3: b[7],
		}
	}

	if err := r.expectPart(); err != nil {
		return nil, err
	}
	p.Functions = make([]*Prototype, c.functions)
	for i := range p.Functions {
		child, err := r.readFunction(p)
		if err != nil {
			return nil, fmt.Errorf("function %d of %s: %w", i, p.DisplayName(), err)
		}
		p.Functions[i] = child
	}

	if p.StackSize, err = r.readInt32(); err != nil {
		return nil, err
	}
	gen, err := r.readUint8()
	if err != nil {
		return nil, err
	}
	p.IsGenerator = gen != 0
	varParams, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	p.VarParams = varParams != 0

	return p, nil
}
