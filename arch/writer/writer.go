/*
 * zhook - s390x instruction writer.
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

package writer

import (
	"encoding/binary"
	"sync/atomic"
)

// General purpose register number. The register ordinal is the 4 bit
// field value in the instruction.
type Reg uint8

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

const (
	// Longest instruction the writer or disassembler will produce.
	MaxInsnSize = 6

	// Byte range reachable by the 32 bit halfword scaled displacement
	// of BRCL.
	BRCLMaxDistance = 0xfffffffe
)

// Writer emits s390x instructions into a caller supplied buffer. The
// buffer holds the bytes being written; pc is the address at which the
// emitted code will execute and is used for all PC relative displacement
// computation. After Reset the pc tracks the cursor, unless reanchored
// with SetPC.
type Writer struct {
	refCount atomic.Int32

	buf    []byte
	cursor int
	pc     uint64
}

// New returns a writer over buf, emitting at the given execute address.
func New(buf []byte, address uint64) *Writer {
	w := &Writer{}
	w.refCount.Store(1)
	w.Reset(buf, address)
	return w
}

// Ref takes a new reference on the writer.
func (w *Writer) Ref() *Writer {
	w.refCount.Add(1)
	return w
}

// Unref drops a reference. The last reference flushes the writer.
func (w *Writer) Unref() {
	if w.refCount.Add(-1) == 0 {
		w.Flush()
	}
}

// Reset rebinds the writer to a new buffer and execute address.
func (w *Writer) Reset(buf []byte, address uint64) {
	w.buf = buf
	w.cursor = 0
	w.pc = address
}

// Cur returns the address of the next byte to be written.
func (w *Writer) Cur() uint64 {
	return w.pc
}

// Offset returns the number of bytes emitted since Reset.
func (w *Writer) Offset() int {
	return w.cursor
}

// PC returns the current program counter.
func (w *Writer) PC() uint64 {
	return w.pc
}

// SetPC reanchors the program counter. Subsequent PC relative emitters
// compute displacements against the new value, so code staged in one
// buffer can carry displacements valid at its final location.
func (w *Writer) SetPC(pc uint64) {
	w.pc = pc
}

func (w *Writer) commit(n int) {
	w.cursor += n
	w.pc += uint64(n)
}

// room reserves n bytes at the cursor. Running past the buffer is a
// programming error; the caller sizes the slice.
func (w *Writer) room(n int) []byte {
	if w.cursor+n > len(w.buf) {
		panic("writer: output buffer overflow")
	}
	return w.buf[w.cursor : w.cursor+n]
}

// Skip advances cursor and pc without writing.
func (w *Writer) Skip(n int) {
	w.commit(n)
}

// Flush exists for symmetry with writers that cache on other machines.
func (w *Writer) Flush() bool {
	return true
}

// PutBASR emits BASR R1,R2.
func (w *Writer) PutBASR(r1, r2 Reg) {
	b := w.room(2)
	b[0] = 0x0D
	b[1] = uint8(r1)<<4 | uint8(r2)
	w.commit(2)
}

// PutBCR emits BCR M1,R2.
func (w *Writer) PutBCR(m1 uint8, r2 Reg) {
	b := w.room(2)
	b[0] = 0x07
	b[1] = m1<<4 | uint8(r2)
	w.commit(2)
}

// PutBRASL emits BRASL R1,RI2 with ri2 an absolute target address.
func (w *Writer) PutBRASL(r1 Reg, ri2 uint64) {
	b := w.room(6)
	b[0] = 0xC0
	b[1] = uint8(r1)<<4 | 0x5
	binary.BigEndian.PutUint32(b[2:], uint32((ri2-w.pc)>>1))
	w.commit(6)
}

// PutBRCL emits BRCL M1,RI2 with ri2 an absolute target address.
func (w *Writer) PutBRCL(m1 uint8, ri2 uint64) {
	b := w.room(6)
	b[0] = 0xC0
	b[1] = m1<<4 | 0x4
	binary.BigEndian.PutUint32(b[2:], uint32((ri2-w.pc)>>1))
	w.commit(6)
}

// PutCG emits CG R1,D2(X2,B2).
func (w *Writer) PutCG(r1 Reg, d2 int32, x2, b2 Reg) {
	w.putRXY(0x20, r1, d2, x2, b2)
}

// PutIPM emits IPM R1.
func (w *Writer) PutIPM(r1 Reg) {
	b := w.room(4)
	b[0] = 0xB2
	b[1] = 0x22
	b[2] = 0x00
	b[3] = uint8(r1) << 4
	w.commit(4)
}

// PutLA emits LA R1,D2(X2,B2). d2 is an unsigned 12 bit displacement.
func (w *Writer) PutLA(r1 Reg, d2 uint16, x2, b2 Reg) {
	b := w.room(4)
	b[0] = 0x41
	b[1] = uint8(r1)<<4 | uint8(x2)
	b[2] = uint8(b2)<<4 | uint8(d2>>8)&0xF
	b[3] = uint8(d2)
	w.commit(4)
}

// PutLARL emits LARL R1,RI2 with ri2 an absolute target address.
func (w *Writer) PutLARL(r1 Reg, ri2 uint64) {
	b := w.room(6)
	b[0] = 0xC0
	b[1] = uint8(r1) << 4
	binary.BigEndian.PutUint32(b[2:], uint32((ri2-w.pc)>>1))
	w.commit(6)
}

// PutLAY emits LAY R1,D2(X2,B2). d2 is a signed 20 bit displacement.
func (w *Writer) PutLAY(r1 Reg, d2 int32, x2, b2 Reg) {
	w.putRXY(0x71, r1, d2, x2, b2)
}

// PutLG emits LG R1,D2(X2,B2).
func (w *Writer) PutLG(r1 Reg, d2 int32, x2, b2 Reg) {
	w.putRXY(0x04, r1, d2, x2, b2)
}

// PutLGR emits LGR R1,R2.
func (w *Writer) PutLGR(r1, r2 Reg) {
	b := w.room(4)
	b[0] = 0xB9
	b[1] = 0x04
	b[2] = 0x00
	b[3] = uint8(r1)<<4 | uint8(r2)
	w.commit(4)
}

// PutLGHI emits LGHI R1,I2.
func (w *Writer) PutLGHI(r1 Reg, i2 int16) {
	b := w.room(4)
	b[0] = 0xA7
	b[1] = uint8(r1)<<4 | 0x9
	binary.BigEndian.PutUint16(b[2:], uint16(i2))
	w.commit(4)
}

// PutLMG emits LMG R1,R3,D2(B2).
func (w *Writer) PutLMG(r1, r3 Reg, d2 int32, b2 Reg) {
	w.putRSY(0x04, r1, r3, d2, b2)
}

// PutLGRL emits LGRL R1,RI2 with ri2 an absolute source address.
func (w *Writer) PutLGRL(r1 Reg, ri2 uint64) {
	b := w.room(6)
	b[0] = 0xC4
	b[1] = uint8(r1)<<4 | 0x8
	binary.BigEndian.PutUint32(b[2:], uint32((ri2-w.pc)>>1))
	w.commit(6)
}

// PutMVGHI emits MVGHI D1(B1),I2.
func (w *Writer) PutMVGHI(d1 uint16, b1 Reg, i2 uint16) {
	b := w.room(6)
	b[0] = 0xE5
	b[1] = 0x48
	b[2] = uint8(b1)<<4 | uint8(d1>>8)&0xF
	b[3] = uint8(d1)
	b[4] = uint8(i2 >> 8)
	b[5] = uint8(i2)
	w.commit(6)
}

// PutNops fills n bytes with the 0x07 no-op.
func (w *Writer) PutNops(n int) {
	b := w.room(n)
	for i := range b {
		b[i] = 0x07
	}
	w.commit(n)
}

// PutSPM emits SPM R1.
func (w *Writer) PutSPM(r1 Reg) {
	b := w.room(2)
	b[0] = 0x04
	b[1] = uint8(r1) << 4
	w.commit(2)
}

// PutSTG emits STG R1,D2(X2,B2).
func (w *Writer) PutSTG(r1 Reg, d2 int32, x2, b2 Reg) {
	w.putRXY(0x24, r1, d2, x2, b2)
}

// PutSTMG emits STMG R1,R3,D2(B2).
func (w *Writer) PutSTMG(r1, r3 Reg, d2 int32, b2 Reg) {
	w.putRSY(0x24, r1, r3, d2, b2)
}

// PutXGR emits XGR R1,R2.
func (w *Writer) PutXGR(r1, r2 Reg) {
	b := w.room(4)
	b[0] = 0xB9
	b[1] = 0x82
	b[2] = 0x00
	b[3] = uint8(r1)<<4 | uint8(r2)
	w.commit(4)
}

// PutPadding advances cursor and pc to the next multiple of alignment.
// The skipped bytes are left as they are.
func (w *Writer) PutPadding(alignment int) {
	a := uint64(alignment)
	alignedPC := (w.pc + a - 1) &^ (a - 1)
	w.Skip(int(alignedPC - w.pc))
}

// PutBytes copies raw data at the cursor.
func (w *Writer) PutBytes(data []byte) {
	b := w.room(len(data))
	copy(b, data)
	w.commit(len(data))
}

// PutBreak emits the invalid 0x0001 pattern, trapping if executed.
func (w *Writer) PutBreak() {
	w.PutBytes([]byte{0x00, 0x01})
}

// RXY form: 20 bit signed displacement split into a low 12 bit field and
// a high 8 bit field, trailing opcode byte last.
func (w *Writer) putRXY(op byte, r1 Reg, d2 int32, x2, b2 Reg) {
	b := w.room(6)
	b[0] = 0xE3
	b[1] = uint8(r1)<<4 | uint8(x2)
	b[2] = uint8(b2)<<4 | uint8(d2>>8)&0xF
	b[3] = uint8(d2)
	b[4] = uint8(d2 >> 12)
	b[5] = op
	w.commit(6)
}

// RSY form: same displacement split as RXY, with two register fields.
func (w *Writer) putRSY(op byte, r1, r3 Reg, d2 int32, b2 Reg) {
	b := w.room(6)
	b[0] = 0xEB
	b[1] = uint8(r1)<<4 | uint8(r3)
	b[2] = uint8(b2)<<4 | uint8(d2>>8)&0xF
	b[3] = uint8(d2)
	b[4] = uint8(d2 >> 12)
	b[5] = op
	w.commit(6)
}
