/*
 * zhook - s390x interceptor backend.
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

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rcornwell/zhook/alloc"
	rel "github.com/rcornwell/zhook/arch/relocator"
	wr "github.com/rcornwell/zhook/arch/writer"
)

/*
   Hooking a function patches its first bytes with a long branch into a
   per-function trampoline slice. The slice holds a pointer to the
   function context, an on-enter and an on-leave trampoline that save
   the register file and tail into the shared enter/leave thunks, and
   an on-invoke trampoline carrying the relocated original prologue
   followed by a branch back to the rest of the function.

   Stack frame built by a trampoline, from R15 up:

     offset  size  field
        0    160   ABI caller save area, untouched here
      160      8   saved PSW mask from IPM
      168    128   gprs[0..15]
*/

const (
	frameSavedAreaSize = 160
	framePswmOffset    = 160
	frameGprsOffset    = 168
	frameSize          = 296

	// Bytes of the target overwritten by the redirect branch.
	redirectCodeSize = 6

	trampolineAlignment = 2

	pointerSize = 8
)

var (
	ErrInsufficientPrologue = errors.New("interceptor: not enough relocatable bytes at target")
)

// MaxPrologueSize bounds how many target bytes an install may preserve.
const MaxPrologueSize = 32

// FunctionContext carries everything the backend knows about one
// hooked function. The framework owns it; CtxAddress is the literal the
// trampolines embed and hand to the enter/leave handlers as their
// first argument.
type FunctionContext struct {
	FunctionAddress uint64
	FunctionCode    []byte // Writable view of the target prologue region.
	CtxAddress      uint64

	TrampolineSlice *alloc.Slice

	OnEnterTrampoline  uint64
	OnLeaveTrampoline  uint64
	OnInvokeTrampoline uint64

	OverwrittenPrologue    [MaxPrologueSize]byte
	OverwrittenPrologueLen int
}

// Backend builds and installs trampolines. One backend serves many
// hooks; the enter and leave thunks are emitted once and shared.
type Backend struct {
	allocator alloc.Allocator

	writer    *wr.Writer
	relocator *rel.Relocator

	thunks *alloc.Slice

	enterThunk uint64
	leaveThunk uint64
}

// NewBackend emits the shared thunks and returns a backend. The two
// handler addresses are the framework entry points called on function
// enter and leave.
func NewBackend(allocator alloc.Allocator, enterHandler, leaveHandler uint64) (*Backend, error) {
	b := &Backend{
		allocator: allocator,
		writer:    wr.New(nil, 0),
	}
	b.relocator = rel.New(nil, 0, b.writer)

	if err := b.createThunks(enterHandler, leaveHandler); err != nil {
		b.relocator.Unref()
		b.writer.Unref()
		return nil, err
	}
	return b, nil
}

// Close releases the shared thunk slice and the embedded writer and
// relocator.
func (b *Backend) Close() error {
	err := b.allocator.FreeSlice(b.thunks)
	b.thunks = nil

	b.relocator.Unref()
	b.writer.Unref()
	return err
}

// EnterThunk returns the shared on-enter thunk address.
func (b *Backend) EnterThunk() uint64 {
	return b.enterThunk
}

// LeaveThunk returns the shared on-leave thunk address.
func (b *Backend) LeaveThunk() uint64 {
	return b.leaveThunk
}

func (b *Backend) createThunks(enterHandler, leaveHandler uint64) error {
	slice, err := b.allocator.AllocSlice()
	if err != nil {
		return fmt.Errorf("interceptor: thunk slice: %w", err)
	}
	b.thunks = slice

	cw := b.writer
	cw.Reset(slice.Data, slice.Address)

	b.enterThunk = emitEnterThunk(cw, enterHandler)
	cw.Flush()
	if cw.Offset() > slice.Size {
		panic("interceptor: thunks overflow slice")
	}

	b.leaveThunk = emitLeaveThunk(cw, leaveHandler)
	cw.Flush()
	if cw.Offset() > slice.Size {
		panic("interceptor: thunks overflow slice")
	}
	return nil
}

// Thunk prologue: capture the condition code and program mask before
// any handler code can clobber them.
func emitPrologue(cw *wr.Writer) {
	cw.PutIPM(wr.R1)
	cw.PutSTG(wr.R1, framePswmOffset, wr.R0, wr.R15)
}

// Thunk epilogue: restore the mask and register file, release the
// frame and jump to whatever R1 holds. The handler steers R1 through
// the saved R1 slot (the indirect branch target slot): either on to the
// invoke trampoline or to a replacement return point.
func emitEpilogue(cw *wr.Writer) {
	cw.PutLG(wr.R1, framePswmOffset, wr.R0, wr.R15)
	cw.PutSPM(wr.R1)
	cw.PutLMG(wr.R0, wr.R15, frameGprsOffset, wr.R15)
	cw.PutLAY(wr.R15, frameSize, wr.R0, wr.R15)
	cw.PutBCR(15, wr.R1)
}

func putLiteral(cw *wr.Writer, value uint64) uint64 {
	cw.PutPadding(pointerSize)
	addr := cw.Cur()
	var lit [pointerSize]byte
	binary.BigEndian.PutUint64(lit[:], value)
	cw.PutBytes(lit[:])
	return addr
}

// The enter handler receives the function context in R2 (loaded by the
// trampoline), then the captured context, the link register save slot,
// and the indirect branch target slot.
func emitEnterThunk(cw *wr.Writer, handler uint64) uint64 {
	handlerAddr := putLiteral(cw, handler)

	result := cw.Cur()
	emitPrologue(cw)

	cw.PutLGRL(wr.R1, handlerAddr)
	cw.PutLA(wr.R3, frameSavedAreaSize, wr.R0, wr.R15)
	cw.PutLA(wr.R4, frameGprsOffset+14*8, wr.R0, wr.R15)
	cw.PutLA(wr.R5, frameGprsOffset+1*8, wr.R0, wr.R15)
	cw.PutBASR(wr.R14, wr.R1)

	emitEpilogue(cw)
	return result
}

// The leave handler receives the function context, the captured
// context and the indirect branch target slot.
func emitLeaveThunk(cw *wr.Writer, handler uint64) uint64 {
	handlerAddr := putLiteral(cw, handler)

	result := cw.Cur()
	emitPrologue(cw)

	cw.PutLGRL(wr.R1, handlerAddr)
	cw.PutLA(wr.R3, frameSavedAreaSize, wr.R0, wr.R15)
	cw.PutLA(wr.R4, frameGprsOffset+1*8, wr.R0, wr.R15)
	cw.PutBASR(wr.R14, wr.R1)

	emitEpilogue(cw)
	return result
}

// Per-hook trampoline: reserve the frame, save all registers, load the
// thunk target and the function context, and jump through R1.
func emitTrampoline(cw *wr.Writer, target, functionCtxPtr uint64) uint64 {
	targetAddr := putLiteral(cw, target)

	result := cw.Cur()
	cw.PutLAY(wr.R15, -frameSize, wr.R0, wr.R15)
	cw.PutSTMG(wr.R0, wr.R15, frameGprsOffset, wr.R15)
	cw.PutLGRL(wr.R1, targetAddr)
	cw.PutLGRL(wr.R2, functionCtxPtr)
	cw.PutBCR(15, wr.R1)
	return result
}

// CreateTrampoline builds the per-hook slice for ctx: context pointer
// literal, enter and leave trampolines, and the invoke trampoline
// holding the relocated prologue. The install fails when the target
// prologue cannot supply six relocatable bytes or no slice can be
// placed within branch range.
func (b *Backend) CreateTrampoline(ctx *FunctionContext) error {
	ok, _ := rel.CanRelocate(ctx.FunctionCode, ctx.FunctionAddress, redirectCodeSize)
	if !ok {
		return fmt.Errorf("%w: %x", ErrInsufficientPrologue, ctx.FunctionAddress)
	}

	spec := alloc.AddressSpec{
		NearAddress: ctx.FunctionAddress,
		MaxDistance: wr.BRCLMaxDistance,
	}
	slice, err := b.allocator.TryAllocSliceNear(spec, trampolineAlignment)
	if err != nil {
		return fmt.Errorf("interceptor: trampoline slice: %w", err)
	}
	ctx.TrampolineSlice = slice

	cw := b.writer
	cw.Reset(slice.Data, slice.Address)

	functionCtxPtr := putLiteral(cw, ctx.CtxAddress)

	ctx.OnEnterTrampoline = emitTrampoline(cw, b.enterThunk, functionCtxPtr)
	ctx.OnLeaveTrampoline = emitTrampoline(cw, b.leaveThunk, functionCtxPtr)

	cw.Flush()
	if cw.Offset() > slice.Size {
		panic("interceptor: trampolines overflow slice")
	}

	ctx.OnInvokeTrampoline = cw.Cur()

	rl := b.relocator
	rl.Reset(ctx.FunctionCode, ctx.FunctionAddress, cw)

	relocBytes := 0
	for relocBytes < redirectCodeSize {
		n, _ := rl.ReadOne()
		if n == 0 {
			panic("interceptor: relocator refused after pre-flight")
		}
		relocBytes = n
	}
	rl.WriteAll()

	if !rl.EOI() {
		cw.PutBRCL(15, ctx.FunctionAddress+uint64(relocBytes))
	}

	cw.Flush()
	if cw.Offset() > slice.Size {
		panic("interceptor: trampolines overflow slice")
	}

	ctx.OverwrittenPrologueLen = relocBytes
	copy(ctx.OverwrittenPrologue[:], ctx.FunctionCode[:relocBytes])

	slog.Debug("trampoline built",
		slog.String("function", fmt.Sprintf("%x", ctx.FunctionAddress)),
		slog.String("slice", fmt.Sprintf("%x", slice.Address)),
		slog.Int("prologue", relocBytes))
	return nil
}

// DestroyTrampoline gives the per-hook slice back.
func (b *Backend) DestroyTrampoline(ctx *FunctionContext) error {
	err := b.allocator.FreeSlice(ctx.TrampolineSlice)
	ctx.TrampolineSlice = nil
	return err
}

// ActivateTrampoline patches the target prologue with a long branch to
// the enter trampoline. The branch is written through the staging view
// but anchored at the function address, so the displacement is valid
// at the call site. Leftover prologue bytes become no-ops.
func (b *Backend) ActivateTrampoline(ctx *FunctionContext, prologue []byte) {
	cw := b.writer
	cw.Reset(prologue, 0)
	cw.SetPC(ctx.FunctionAddress)

	cw.PutBRCL(15, ctx.OnEnterTrampoline)
	cw.Flush()
	if cw.Offset() > redirectCodeSize {
		panic("interceptor: redirect exceeds reserved prologue")
	}

	cw.PutNops(ctx.OverwrittenPrologueLen - cw.Offset())
	cw.Flush()

	slog.Debug("hook activated",
		slog.String("function", fmt.Sprintf("%x", ctx.FunctionAddress)))
}

// DeactivateTrampoline restores the exact bytes captured at install.
func (b *Backend) DeactivateTrampoline(ctx *FunctionContext, prologue []byte) {
	copy(prologue, ctx.OverwrittenPrologue[:ctx.OverwrittenPrologueLen])

	slog.Debug("hook deactivated",
		slog.String("function", fmt.Sprintf("%x", ctx.FunctionAddress)))
}

// FunctionAddress returns the hooked address for ctx.
func FunctionAddress(ctx *FunctionContext) uint64 {
	return ctx.FunctionAddress
}

// ResolveRedirect follows a jump stub at address to its destination.
// Chain following is not implemented; callers get 0 and hook the
// address as given.
func (b *Backend) ResolveRedirect(address uint64) uint64 {
	return 0
}
