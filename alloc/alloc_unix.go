/*
 * zhook - Executable page allocator.
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

//go:build unix

package alloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageAllocator maps anonymous read/write/execute pages. The kernel
// picks placement; near allocation verifies the constraint after the
// fact and gives the mapping back when it landed out of range.
type PageAllocator struct {
	sliceSize int
}

func NewPageAllocator() *PageAllocator {
	return &PageAllocator{sliceSize: DefaultSliceSize}
}

func (p *PageAllocator) mmap() (*Slice, error) {
	data, err := unix.Mmap(-1, 0, p.sliceSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("alloc: mmap: %w", err)
	}
	return &Slice{
		Data:    data,
		Address: uint64(uintptr(unsafe.Pointer(&data[0]))),
		Size:    p.sliceSize,
	}, nil
}

func (p *PageAllocator) AllocSlice() (*Slice, error) {
	return p.mmap()
}

func (p *PageAllocator) TryAllocSliceNear(spec AddressSpec, alignment uint64) (*Slice, error) {
	slice, err := p.mmap()
	if err != nil {
		return nil, err
	}
	if slice.Address%alignment != 0 || !spec.Within(slice.Address) {
		_ = unix.Munmap(slice.Data)
		return nil, fmt.Errorf("%w: %x not within %x of %x",
			ErrNoSliceNear, slice.Address, spec.MaxDistance, spec.NearAddress)
	}
	return slice, nil
}

func (p *PageAllocator) FreeSlice(s *Slice) error {
	if s == nil || s.Data == nil {
		return nil
	}
	return unix.Munmap(s.Data)
}
