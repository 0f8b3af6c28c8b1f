package bytecode

import (
	"encoding/binary"
	"io"
)

var le = binary.LittleEndian

// Encode serializes p in the layout Parse reads, including the stream
// header and trailing TAIL marker. Instruction Pos fields are ignored.
func Encode(p *Prototype) []byte {
	buf := make([]byte, 0, 256)

	buf = le.AppendUint16(buf, StreamTag)
	buf = le.AppendUint32(buf, TagHead)
	// sizeof(char), sizeof(integer), sizeof(float)
	buf = le.AppendUint32(buf, 1)
	buf = le.AppendUint32(buf, 4)
	buf = le.AppendUint32(buf, 4)

	buf = appendFunction(buf, p)
	return le.AppendUint32(buf, TagTail)
}

// Write encodes p to w.
func Write(w io.Writer, p *Prototype) error {
	_, err := w.Write(Encode(p))
	return err
}

func appendValue(buf []byte, v Value) []byte {
	buf = le.AppendUint32(buf, uint32(v.Type()))
	switch v.Type() {
	case TypeInteger, TypeFloat, TypeBool:
		buf = le.AppendUint32(buf, v.bits)
	case TypeString:
		buf = le.AppendUint32(buf, uint32(len(v.str)))
		buf = append(buf, v.str...)
	}
	return buf
}

func appendFunction(buf []byte, p *Prototype) []byte {
	buf = le.AppendUint32(buf, TagPart)
	buf = appendValue(buf, p.SourceName)
	buf = appendValue(buf, p.Name)

	buf = le.AppendUint32(buf, TagPart)
	for _, n := range []int{
		len(p.Literals), len(p.Parameters), len(p.OuterVars), len(p.LocalVars),
		len(p.Lines), len(p.DefaultParams), len(p.Instructions), len(p.Functions),
	} {
		buf = le.AppendUint32(buf, uint32(n))
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, v := range p.Literals {
		buf = appendValue(buf, v)
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, v := range p.Parameters {
		buf = appendValue(buf, v)
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, o := range p.OuterVars {
		buf = le.AppendUint32(buf, uint32(o.Kind))
		buf = appendValue(buf, o.Src)
		buf = appendValue(buf, o.Name)
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, lv := range p.LocalVars {
		buf = appendValue(buf, lv.Name)
		buf = le.AppendUint32(buf, lv.Pos)
		buf = le.AppendUint32(buf, lv.StartOp)
		buf = le.AppendUint32(buf, lv.EndOp)
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, li := range p.Lines {
		buf = le.AppendUint32(buf, uint32(li.Line))
		buf = le.AppendUint32(buf, uint32(li.Op))
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, d := range p.DefaultParams {
		buf = le.AppendUint32(buf, uint32(d))
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, in := range p.Instructions {
		buf = le.AppendUint32(buf, uint32(in.Arg1))
		buf = append(buf, byte(in.Op), in.Arg0, in.Arg2, in.Arg3)
	}

	buf = le.AppendUint32(buf, TagPart)
	for _, child := range p.Functions {
		buf = appendFunction(buf, child)
	}

	buf = le.AppendUint32(buf, uint32(p.StackSize))
	if p.IsGenerator {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var varParams uint32
	if p.VarParams {
		varParams = 1
	}
	return le.AppendUint32(buf, varParams)
}
