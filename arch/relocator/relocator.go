/*
 * zhook - s390x prologue relocator.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package relocator

import (
	"encoding/binary"
	"sync/atomic"

	dis "github.com/rcornwell/zhook/arch/disassemble"
	op "github.com/rcornwell/zhook/arch/opcodemap"
	wr "github.com/rcornwell/zhook/arch/writer"
)

/*
   The relocator reads instructions from the start of a function and
   re-emits them through a writer bound to the trampoline slice,
   adjusting PC relative operands so they keep their meaning at the new
   address. It is deliberately conservative: only instructions it can
   classify get moved, anything else stops the read loop.
*/

// Most instructions that can sit unread between ReadOne and WriteOne.
const maxInputInsns = 100

// Relocator moves instructions from an input code stream into a bound
// output writer.
type Relocator struct {
	refCount atomic.Int32

	disasm *dis.Disassembler

	input        []byte
	inputAddress uint64
	inputCur     int

	insns  []*dis.Insn
	output *wr.Writer

	inpos  int
	outpos int

	eob bool
	eoi bool
}

// New returns a relocator reading at input (which executes at address)
// and writing through output. The relocator holds a reference on the
// output writer.
func New(input []byte, address uint64, output *wr.Writer) *Relocator {
	r := &Relocator{
		disasm: dis.New(),
		insns:  make([]*dis.Insn, maxInputInsns),
	}
	r.refCount.Store(1)
	r.Reset(input, address, output)
	return r
}

// Ref takes a new reference on the relocator.
func (r *Relocator) Ref() *Relocator {
	r.refCount.Add(1)
	return r
}

// Unref drops a reference; the last one releases the decoder and the
// output writer.
func (r *Relocator) Unref() {
	if r.refCount.Add(-1) == 0 {
		r.clear()
	}
}

func (r *Relocator) clear() {
	r.Reset(nil, 0, nil)

	for i := range r.insns {
		r.insns[i] = nil
	}
	r.disasm.Close()
}

// Reset rebinds the relocator to a new input stream and output writer
// without dropping slot storage.
func (r *Relocator) Reset(input []byte, address uint64, output *wr.Writer) {
	r.input = input
	r.inputAddress = address
	r.inputCur = 0

	if output != nil {
		output.Ref()
	}
	if r.output != nil {
		r.output.Unref()
	}
	r.output = output

	r.inpos = 0
	r.outpos = 0

	r.eob = false
	r.eoi = false
}

func (r *Relocator) slotIn() int {
	return r.inpos % maxInputInsns
}

func (r *Relocator) slotOut() int {
	return r.outpos % maxInputInsns
}

func (r *Relocator) incrementInpos() {
	r.inpos++
	if r.inpos <= r.outpos {
		panic("relocator: input position fell behind output")
	}
}

func (r *Relocator) incrementOutpos() {
	r.outpos++
	if r.outpos > r.inpos {
		panic("relocator: output position passed input")
	}
}

// ReadOne decodes and classifies the next input instruction, queueing
// it for writing. It returns the total bytes consumed since the input
// origin and the queued instruction, or 0 and nil when the next
// instruction cannot be moved. A refused read pins the relocator: all
// later reads refuse too.
func (r *Relocator) ReadOne() (int, *dis.Insn) {
	if r.eoi {
		return 0, nil
	}

	insn, err := r.disasm.Disasm(r.input[r.inputCur:], r.inputAddress+uint64(r.inputCur))
	if err != nil {
		r.eoi = true
		return 0, nil
	}

	switch insn.ID {
	case op.OpSTMG, op.OpLGR, op.OpLGRL, op.OpLHI:
	case op.OpCGIJE:
		r.eob = true
	default:
		r.eoi = true
		return 0, nil
	}

	r.insns[r.slotIn()] = insn
	r.incrementInpos()

	r.inputCur += insn.Len

	return r.inputCur, insn
}

// PeekNextWriteInsn returns the next queued instruction without
// consuming it, or nil when the queue is drained.
func (r *Relocator) PeekNextWriteInsn() *dis.Insn {
	if r.outpos == r.inpos {
		return nil
	}
	return r.insns[r.slotOut()]
}

// WriteOne emits the next queued instruction into the output writer,
// rewriting PC relative operands. It reports whether an instruction
// was written.
func (r *Relocator) WriteOne() bool {
	cur := r.PeekNextWriteInsn()
	if cur == nil {
		return false
	}
	r.incrementOutpos()

	switch cur.ID {
	case op.OpSTMG, op.OpLGR, op.OpLHI:
		// No PC relative operand, copy verbatim.
		r.output.PutBytes(cur.Bytes)

	case op.OpCGIJE:
		// Invert the condition mask and hop over a long branch to
		// the original target: "branch if equal to T" becomes
		// "branch if not equal past BRCL(15,T)". The short 16 bit
		// displacement is traded for BRCL range.
		var relocated [6]byte
		copy(relocated[:], cur.Bytes)
		disp := int16(binary.BigEndian.Uint16(relocated[4:]))
		target := cur.Address + uint64(int64(disp)<<1)
		relocated[1] ^= 0x0F
		binary.BigEndian.PutUint16(relocated[4:], 6)
		r.output.PutBytes(relocated[:])
		r.output.PutBRCL(15, target)

	case op.OpLGRL:
		// Rebias the displacement so the same absolute doubleword
		// is loaded from the new address.
		var relocated [6]byte
		copy(relocated[:], cur.Bytes)
		disp := binary.BigEndian.Uint32(relocated[2:])
		disp += uint32((cur.Address - r.output.PC()) >> 1)
		binary.BigEndian.PutUint32(relocated[2:], disp)
		r.output.PutBytes(relocated[:])

	default:
		return false
	}

	return true
}

// WriteAll drains the queue. At least one instruction must have been
// queued.
func (r *Relocator) WriteAll() {
	count := 0
	for r.WriteOne() {
		count++
	}
	if count == 0 {
		panic("relocator: nothing to write")
	}
}

// EOB reports whether the last read instruction ended the basic block.
func (r *Relocator) EOB() bool {
	return r.eob
}

// EOI reports whether the input stream is exhausted.
func (r *Relocator) EOI() bool {
	return r.eoi
}

// CanRelocate is the pre-flight for hooking: it reads instructions at
// code until minBytes are covered or a read refuses, and reports
// whether enough bytes can be moved along with the byte count reached.
func CanRelocate(code []byte, address uint64, minBytes int) (bool, int) {
	buf := make([]byte, 3*minBytes)
	cw := wr.New(buf, address)
	rl := New(code, address, cw)

	n := 0
	for {
		relocBytes, _ := rl.ReadOne()
		if relocBytes == 0 {
			break
		}
		n = relocBytes
		if relocBytes >= minBytes {
			break
		}
	}

	rl.Unref()
	cw.Unref()

	return n >= minBytes, n
}
