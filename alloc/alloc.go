/*
 * zhook - Code slice allocator.
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

package alloc

import (
	"errors"
	"fmt"
)

// Default byte size of an allocated code slice.
const DefaultSliceSize = 4096

var ErrNoSliceNear = errors.New("alloc: no slice available near address")

// Slice is a contiguous code region. Data is the writable view, Address
// is where the code executes.
type Slice struct {
	Data    []byte
	Address uint64
	Size    int
}

// AddressSpec constrains where a slice may be placed: within
// MaxDistance bytes of NearAddress.
type AddressSpec struct {
	NearAddress uint64
	MaxDistance uint64
}

// Within reports whether addr satisfies the constraint.
func (s AddressSpec) Within(addr uint64) bool {
	distance := addr - s.NearAddress
	if addr < s.NearAddress {
		distance = s.NearAddress - addr
	}
	return distance <= s.MaxDistance
}

// Allocator hands out executable code slices.
type Allocator interface {
	AllocSlice() (*Slice, error)
	TryAllocSliceNear(spec AddressSpec, alignment uint64) (*Slice, error)
	FreeSlice(s *Slice) error
}

// Sandbox allocates plain byte slices carrying synthetic execute
// addresses carved from a base. It lets trampolines be built and
// inspected against chosen address layouts without executable pages.
type Sandbox struct {
	next      uint64
	sliceSize int
}

// NewSandbox returns a sandbox allocator placing slices from base up.
func NewSandbox(base uint64) *Sandbox {
	return &Sandbox{next: base, sliceSize: DefaultSliceSize}
}

func (s *Sandbox) alloc(alignment uint64) *Slice {
	addr := (s.next + alignment - 1) &^ (alignment - 1)
	s.next = addr + uint64(s.sliceSize)
	return &Slice{
		Data:    make([]byte, s.sliceSize),
		Address: addr,
		Size:    s.sliceSize,
	}
}

func (s *Sandbox) AllocSlice() (*Slice, error) {
	return s.alloc(1), nil
}

func (s *Sandbox) TryAllocSliceNear(spec AddressSpec, alignment uint64) (*Slice, error) {
	slice := s.alloc(alignment)
	if !spec.Within(slice.Address) {
		return nil, fmt.Errorf("%w: %x not within %x of %x",
			ErrNoSliceNear, slice.Address, spec.MaxDistance, spec.NearAddress)
	}
	return slice, nil
}

func (s *Sandbox) FreeSlice(_ *Slice) error {
	return nil
}
