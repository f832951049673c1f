/*
	   zhook s390x instruction decoder.

		Copyright (c) 2024, Richard Cornwell

		Permission is hereby granted, free of charge, to any person obtaining a
		copy of this software and associated documentation files (the "Software"),
		to deal in the Software without restriction, including without limitation
		the rights to use, copy, modify, merge, publish, distribute, sublicense,
		and/or sell copies of the Software, and to permit persons to whom the
		Software is furnished to do so, subject to the following conditions:

		The above copyright notice and this permission notice shall be included in
		all copies or substantial portions of the Software.

		THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
		IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
		FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
		RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
		IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
		CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/
package disassembler

import (
	"encoding/binary"
	"errors"
	"fmt"

	op "github.com/rcornwell/zhook/arch/opcodemap"
)

/*
   The decoder recognizes the closed instruction set the hooking core
   emits and relocates. It is not a general purpose disassembler: any
   byte pattern outside the table is an error, which the relocator
   treats as "stop reading here".

   Instruction length comes from the top two bits of the first opcode
   byte: 00 is two bytes, 01 and 10 are four, 11 is six.
*/

var (
	ErrTruncated     = errors.New("instruction extends past end of code")
	ErrUnknownOpcode = errors.New("undefined opcode")
)

// One decoded instruction.
type Insn struct {
	ID      int    // Opcode identifier from opcodemap.
	Address uint64 // Address the instruction was read from.
	Len     int    // Instruction length: 2, 4 or 6.
	Bytes   []byte // Raw instruction bytes.
}

// Disassembler iterates instructions out of a code stream.
type Disassembler struct {
	closed bool
}

// New opens a decoder handle.
func New() *Disassembler {
	return &Disassembler{}
}

// Close releases the handle. Further Disasm calls fail.
func (d *Disassembler) Close() {
	d.closed = true
}

// Disasm decodes one instruction at the start of code, assumed to live
// at the given address.
func (d *Disassembler) Disasm(code []byte, address uint64) (*Insn, error) {
	if d.closed {
		return nil, errors.New("disassembler is closed")
	}
	if len(code) == 0 {
		return nil, ErrTruncated
	}

	length := op.InsnLen(code[0])
	if length > len(code) {
		return nil, ErrTruncated
	}

	id, err := identify(code[:length])
	if err != nil {
		return nil, err
	}

	raw := make([]byte, length)
	copy(raw, code)

	return &Insn{ID: id, Address: address, Len: length, Bytes: raw}, nil
}

func identify(b []byte) (int, error) {
	switch b[0] {
	case 0x04:
		return op.OpSPM, nil
	case 0x07:
		return op.OpBCR, nil
	case 0x0D:
		return op.OpBASR, nil
	case 0x41:
		return op.OpLA, nil
	case 0xA7:
		switch b[1] & 0xF {
		case 0x8:
			return op.OpLHI, nil
		case 0x9:
			return op.OpLGHI, nil
		}
	case 0xB2:
		if b[1] == 0x22 {
			return op.OpIPM, nil
		}
	case 0xB9:
		switch b[1] {
		case 0x04:
			return op.OpLGR, nil
		case 0x82:
			return op.OpXGR, nil
		}
	case 0xC0:
		switch b[1] & 0xF {
		case 0x0:
			return op.OpLARL, nil
		case 0x4:
			return op.OpBRCL, nil
		case 0x5:
			return op.OpBRASL, nil
		}
	case 0xC2:
		if b[1]&0xF == 0x8 {
			return op.OpCGIJE, nil
		}
	case 0xC4:
		if b[1]&0xF == 0x8 {
			return op.OpLGRL, nil
		}
	case 0xE3:
		switch b[5] {
		case 0x04:
			return op.OpLG, nil
		case 0x20:
			return op.OpCG, nil
		case 0x24:
			return op.OpSTG, nil
		case 0x71:
			return op.OpLAY, nil
		}
	case 0xE5:
		if b[1] == 0x48 {
			return op.OpMVGHI, nil
		}
	case 0xEB:
		switch b[5] {
		case 0x04:
			return op.OpLMG, nil
		case 0x24:
			return op.OpSTMG, nil
		}
	}
	return 0, ErrUnknownOpcode
}

var opNames = map[int]string{
	op.OpSPM:   "SPM",
	op.OpBCR:   "BCR",
	op.OpBASR:  "BASR",
	op.OpLA:    "LA",
	op.OpLHI:   "LHI",
	op.OpLGHI:  "LGHI",
	op.OpIPM:   "IPM",
	op.OpLGR:   "LGR",
	op.OpXGR:   "XGR",
	op.OpLARL:  "LARL",
	op.OpBRCL:  "BRCL",
	op.OpBRASL: "BRASL",
	op.OpCGIJE: "CGIJE",
	op.OpLGRL:  "LGRL",
	op.OpLG:    "LG",
	op.OpCG:    "CG",
	op.OpSTG:   "STG",
	op.OpLAY:   "LAY",
	op.OpMVGHI: "MVGHI",
	op.OpLMG:   "LMG",
	op.OpSTMG:  "STMG",
}

// Format renders an instruction in listing style. PC relative operands
// print as their resolved absolute target.
func Format(insn *Insn) string {
	b := insn.Bytes
	name := opNames[insn.ID]

	switch insn.ID {
	case op.OpSPM, op.OpIPM:
		// R1 sits in the last byte of both forms.
		return fmt.Sprintf("%-6s%d", name, b[insn.Len-1]>>4)
	case op.OpBCR, op.OpBASR, op.OpLGR, op.OpXGR:
		var r1, r2 byte
		if b[0] == 0xB9 {
			r1, r2 = b[3]>>4, b[3]&0xF
		} else {
			r1, r2 = b[1]>>4, b[1]&0xF
		}
		return fmt.Sprintf("%-6s%d,%d", name, r1, r2)
	case op.OpLHI, op.OpLGHI:
		i2 := int16(binary.BigEndian.Uint16(b[2:]))
		return fmt.Sprintf("%-6s%d,%d", name, b[1]>>4, i2)
	case op.OpLA:
		d2 := uint16(b[2]&0xF)<<8 | uint16(b[3])
		return fmt.Sprintf("%-6s%d,%d(%d,%d)", name, b[1]>>4, d2, b[1]&0xF, b[2]>>4)
	case op.OpLG, op.OpCG, op.OpSTG, op.OpLAY:
		return fmt.Sprintf("%-6s%d,%d(%d,%d)", name, b[1]>>4, longDisp(b), b[1]&0xF, b[2]>>4)
	case op.OpLMG, op.OpSTMG:
		return fmt.Sprintf("%-6s%d,%d,%d(%d)", name, b[1]>>4, b[1]&0xF, longDisp(b), b[2]>>4)
	case op.OpMVGHI:
		d1 := uint16(b[2]&0xF)<<8 | uint16(b[3])
		i2 := binary.BigEndian.Uint16(b[4:])
		return fmt.Sprintf("%-6s%d(%d),%d", name, d1, b[2]>>4, i2)
	case op.OpLARL, op.OpBRCL, op.OpBRASL, op.OpLGRL:
		ri2 := int32(binary.BigEndian.Uint32(b[2:]))
		target := insn.Address + uint64(int64(ri2)<<1)
		return fmt.Sprintf("%-6s%d,%08X", name, b[1]>>4, target)
	case op.OpCGIJE:
		ri4 := int16(binary.BigEndian.Uint16(b[4:]))
		target := insn.Address + uint64(int64(ri4)<<1)
		return fmt.Sprintf("%-6s%d,%08X", name, b[1]>>4, target)
	}
	return fmt.Sprintf("%-6s% X", "DC", b)
}

// Signed 20 bit displacement of the RXY and RSY forms.
func longDisp(b []byte) int32 {
	d := int32(b[2]&0xF)<<8 | int32(b[3]) | int32(b[4])<<12
	return d << 12 >> 12
}
