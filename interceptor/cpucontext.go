/*
 * zhook - Saved CPU context accessors.
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

package interceptor

import "unsafe"

// CpuContext is the register file a trampoline saves on entry. The
// layout is load bearing: the trampolines store and reload it with
// STMG/LMG at fixed offsets.
type CpuContext struct {
	Pswm uint64
	Gprs [16]uint64
}

/*
   z/Architecture Linux ABI argument convention: the first five call
   arguments arrive in R2..R6, the rest live on the stack past the 160
   byte back chain and register save area addressed by R15. The return
   value comes back in R2.
*/

// NthArgument returns call argument n at the time the context was
// captured.
func (c *CpuContext) NthArgument(n int) uint64 {
	if n < 5 {
		return c.Gprs[2+n]
	}
	return *stackArgument(c, n)
}

// ReplaceNthArgument overwrites call argument n.
func (c *CpuContext) ReplaceNthArgument(n int, value uint64) {
	if n < 5 {
		c.Gprs[2+n] = value
		return
	}
	*stackArgument(c, n) = value
}

// ReturnValue returns the function result register.
func (c *CpuContext) ReturnValue() uint64 {
	return c.Gprs[2]
}

// ReplaceReturnValue overwrites the function result register.
func (c *CpuContext) ReplaceReturnValue(value uint64) {
	c.Gprs[2] = value
}

func stackArgument(c *CpuContext, n int) *uint64 {
	addr := uintptr(c.Gprs[15]) + frameSavedAreaSize + uintptr(n-5)*8
	return (*uint64)(unsafe.Pointer(addr))
}
