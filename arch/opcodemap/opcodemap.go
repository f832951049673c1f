/*
   z/Architecture opcode identifiers for the hooking core.

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

package opcodemap

// Each identifier packs the primary opcode byte in the high byte and the
// distinguishing extension in the low byte: the trailing opcode byte for
// RXY/RSY forms, the low nibble of byte 1 for RIL/RI forms, the second
// opcode byte for two-byte opcodes, and zero where one byte is enough.

const (
	OpSPM   = 0x0400 // SPM R1               RR
	OpBCR   = 0x0700 // BCR M1,R2            RR
	OpBASR  = 0x0D00 // BASR R1,R2           RR
	OpLA    = 0x4100 // LA R1,D2(X2,B2)      RX
	OpLHI   = 0xA708 // LHI R1,I2            RI
	OpLGHI  = 0xA709 // LGHI R1,I2           RI
	OpIPM   = 0xB222 // IPM R1               RRE
	OpLGR   = 0xB904 // LGR R1,R2            RRE
	OpXGR   = 0xB982 // XGR R1,R2            RRE
	OpLARL  = 0xC000 // LARL R1,RI2          RIL
	OpBRCL  = 0xC004 // BRCL M1,RI2          RIL
	OpBRASL = 0xC005 // BRASL R1,RI2         RIL
	OpCGIJE = 0xC208 // CGIJE R1,RI4         RIE, compare and branch equal
	OpLGRL  = 0xC408 // LGRL R1,RI2          RIL
	OpLG    = 0xE304 // LG R1,D2(X2,B2)      RXY
	OpCG    = 0xE320 // CG R1,D2(X2,B2)      RXY
	OpSTG   = 0xE324 // STG R1,D2(X2,B2)     RXY
	OpLAY   = 0xE371 // LAY R1,D2(X2,B2)     RXY
	OpMVGHI = 0xE548 // MVGHI D1(B1),I2      SIL
	OpLMG   = 0xEB04 // LMG R1,R3,D2(B2)     RSY
	OpSTMG  = 0xEB24 // STMG R1,R3,D2(B2)    RSY
)

// Length of an instruction from the top two bits of its first opcode byte.
func InsnLen(opcode byte) int {
	switch opcode >> 6 {
	case 0:
		return 2
	case 3:
		return 6
	default:
		return 4
	}
}
