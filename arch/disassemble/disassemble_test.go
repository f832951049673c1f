/*
	   zhook decoder test routines.

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
	"bytes"
	"errors"
	"testing"

	op "github.com/rcornwell/zhook/arch/opcodemap"
	wr "github.com/rcornwell/zhook/arch/writer"
)

func TestDisassemble(t *testing.T) {
	cases := []struct {
		code  []byte
		id    int
		size  int
		match string
	}{
		{[]byte{0xEB, 0xCF, 0xF0, 0x30, 0x00, 0x24}, op.OpSTMG, 6, "STMG  12,15,48(15)"},
		{[]byte{0xEB, 0x0F, 0xF0, 0xA8, 0x00, 0x04}, op.OpLMG, 6, "LMG   0,15,168(15)"},
		{[]byte{0xB9, 0x04, 0x00, 0x2F}, op.OpLGR, 4, "LGR   2,15"},
		{[]byte{0xB9, 0x82, 0x00, 0x33}, op.OpXGR, 4, "XGR   3,3"},
		{[]byte{0xA7, 0x18, 0x00, 0x05}, op.OpLHI, 4, "LHI   1,5"},
		{[]byte{0xA7, 0x59, 0xFF, 0xFE}, op.OpLGHI, 4, "LGHI  5,-2"},
		{[]byte{0xB2, 0x22, 0x00, 0x10}, op.OpIPM, 4, "IPM   1"},
		{[]byte{0x04, 0x10}, op.OpSPM, 2, "SPM   1"},
		{[]byte{0x07, 0xF1}, op.OpBCR, 2, "BCR   15,1"},
		{[]byte{0x0D, 0xE1}, op.OpBASR, 2, "BASR  14,1"},
		{[]byte{0x41, 0x30, 0xF0, 0xA0}, op.OpLA, 4, "LA    3,160(0,15)"},
		{[]byte{0xC4, 0x18, 0x00, 0x00, 0x00, 0x20}, op.OpLGRL, 6, "LGRL  1,10000040"},
		{[]byte{0xC0, 0xF4, 0x00, 0x00, 0x10, 0x00}, op.OpBRCL, 6, "BRCL  15,10002000"},
		{[]byte{0xC0, 0xE5, 0x00, 0x00, 0x02, 0x00}, op.OpBRASL, 6, "BRASL 14,10000400"},
		{[]byte{0xC0, 0x10, 0x00, 0x00, 0x00, 0x80}, op.OpLARL, 6, "LARL  1,10000100"},
		{[]byte{0xC2, 0x18, 0x00, 0x00, 0x00, 0x40}, op.OpCGIJE, 6, "CGIJE 1,10000080"},
		{[]byte{0xE3, 0x10, 0xF0, 0xA0, 0x00, 0x04}, op.OpLG, 6, "LG    1,160(0,15)"},
		{[]byte{0xE3, 0x10, 0x20, 0x08, 0x00, 0x20}, op.OpCG, 6, "CG    1,8(0,2)"},
		{[]byte{0xE3, 0x10, 0xF0, 0xA0, 0x00, 0x24}, op.OpSTG, 6, "STG   1,160(0,15)"},
		{[]byte{0xE3, 0xF0, 0xFE, 0xD8, 0xFF, 0x71}, op.OpLAY, 6, "LAY   15,-296(0,15)"},
		{[]byte{0xE5, 0x48, 0xF0, 0x08, 0x00, 0x01}, op.OpMVGHI, 6, "MVGHI 8(15),1"},
	}

	d := New()
	defer d.Close()

	for _, c := range cases {
		insn, err := d.Disasm(c.code, 0x10000000)
		if err != nil {
			t.Errorf("% X decode error: %v", c.code, err)
			continue
		}
		if insn.ID != c.id {
			t.Errorf("% X id Got: %04X Expected: %04X", c.code, insn.ID, c.id)
		}
		if insn.Len != c.size {
			t.Errorf("% X length Got: %d Expected: %d", c.code, insn.Len, c.size)
		}
		if insn.Address != 0x10000000 {
			t.Errorf("% X address Got: %x", c.code, insn.Address)
		}
		if !bytes.Equal(insn.Bytes, c.code) {
			t.Errorf("% X raw bytes Got: % X", c.code, insn.Bytes)
		}
		inst := Format(insn)
		if inst != c.match {
			t.Errorf("Inst Got: " + inst + " Expected " + c.match)
		}
	}
}

func TestDisassembleRejects(t *testing.T) {
	d := New()
	defer d.Close()

	// Unknown primary opcode.
	_, err := d.Disasm([]byte{0x1A, 0x12}, 0)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("unknown opcode Got: %v Expected: %v", err, ErrUnknownOpcode)
	}

	// Known primary opcode, unknown extension.
	_, err = d.Disasm([]byte{0xE3, 0x10, 0xF0, 0xA0, 0x00, 0xFF}, 0)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("unknown extension Got: %v Expected: %v", err, ErrUnknownOpcode)
	}

	// Six byte opcode with only four bytes of code.
	_, err = d.Disasm([]byte{0xEB, 0xCF, 0xF0, 0x30}, 0)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated Got: %v Expected: %v", err, ErrTruncated)
	}

	_, err = d.Disasm(nil, 0)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("empty Got: %v Expected: %v", err, ErrTruncated)
	}

	d.Close()
	if _, err = d.Disasm([]byte{0x07, 0x00}, 0); err == nil {
		t.Error("closed decoder did not return error")
	}
}

// Everything the writer emits must decode back to the same identity.
func TestWriterRoundTrip(t *testing.T) {
	cases := []struct {
		id   int
		emit func(w *wr.Writer)
	}{
		{op.OpBASR, func(w *wr.Writer) { w.PutBASR(wr.R14, wr.R1) }},
		{op.OpBCR, func(w *wr.Writer) { w.PutBCR(15, wr.R1) }},
		{op.OpBRASL, func(w *wr.Writer) { w.PutBRASL(wr.R14, 0x10000400) }},
		{op.OpBRCL, func(w *wr.Writer) { w.PutBRCL(15, 0x10002000) }},
		{op.OpCG, func(w *wr.Writer) { w.PutCG(wr.R1, 8, wr.R0, wr.R2) }},
		{op.OpIPM, func(w *wr.Writer) { w.PutIPM(wr.R1) }},
		{op.OpLA, func(w *wr.Writer) { w.PutLA(wr.R3, 160, wr.R0, wr.R15) }},
		{op.OpLARL, func(w *wr.Writer) { w.PutLARL(wr.R1, 0x10000100) }},
		{op.OpLAY, func(w *wr.Writer) { w.PutLAY(wr.R15, -296, wr.R0, wr.R15) }},
		{op.OpLG, func(w *wr.Writer) { w.PutLG(wr.R1, 160, wr.R0, wr.R15) }},
		{op.OpLGR, func(w *wr.Writer) { w.PutLGR(wr.R2, wr.R15) }},
		{op.OpLGHI, func(w *wr.Writer) { w.PutLGHI(wr.R5, -2) }},
		{op.OpLMG, func(w *wr.Writer) { w.PutLMG(wr.R0, wr.R15, 168, wr.R15) }},
		{op.OpLGRL, func(w *wr.Writer) { w.PutLGRL(wr.R1, 0x10000040) }},
		{op.OpMVGHI, func(w *wr.Writer) { w.PutMVGHI(8, wr.R15, 1) }},
		{op.OpSPM, func(w *wr.Writer) { w.PutSPM(wr.R1) }},
		{op.OpSTG, func(w *wr.Writer) { w.PutSTG(wr.R1, 160, wr.R0, wr.R15) }},
		{op.OpSTMG, func(w *wr.Writer) { w.PutSTMG(wr.R12, wr.R15, 48, wr.R15) }},
		{op.OpXGR, func(w *wr.Writer) { w.PutXGR(wr.R3, wr.R3) }},
	}

	d := New()
	defer d.Close()

	for _, c := range cases {
		buf := make([]byte, 8)
		w := wr.New(buf, 0x10000000)
		c.emit(w)
		insn, err := d.Disasm(buf[:w.Offset()], 0x10000000)
		if err != nil {
			t.Errorf("id %04X round trip error: %v", c.id, err)
			continue
		}
		if insn.ID != c.id {
			t.Errorf("round trip id Got: %04X Expected: %04X", insn.ID, c.id)
		}
		if insn.Len != w.Offset() {
			t.Errorf("id %04X round trip length Got: %d Expected: %d", c.id, insn.Len, w.Offset())
		}
	}
}
