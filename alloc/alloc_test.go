/*
 * zhook - Allocator test routines.
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
	"testing"
)

func TestSandboxPlacement(t *testing.T) {
	sb := NewSandbox(0x20000001)

	spec := AddressSpec{NearAddress: 0x10000000, MaxDistance: 0xFFFFFFFE}
	slice, err := sb.TryAllocSliceNear(spec, 2)
	if err != nil {
		t.Fatalf("near alloc error: %v", err)
	}
	if slice.Address != 0x20000002 {
		t.Errorf("aligned address Got: %x Expected: %x", slice.Address, 0x20000002)
	}
	if slice.Size != DefaultSliceSize || len(slice.Data) != DefaultSliceSize {
		t.Errorf("slice size Got: %d Expected: %d", slice.Size, DefaultSliceSize)
	}

	// A second slice comes from fresh addresses.
	next, err := sb.AllocSlice()
	if err != nil {
		t.Fatalf("alloc error: %v", err)
	}
	if next.Address < slice.Address+uint64(slice.Size) {
		t.Errorf("slices overlap: %x after %x", next.Address, slice.Address)
	}

	if err = sb.FreeSlice(slice); err != nil {
		t.Errorf("free error: %v", err)
	}
}

func TestSandboxNearRefused(t *testing.T) {
	sb := NewSandbox(0x200000000)

	spec := AddressSpec{NearAddress: 0x10000000, MaxDistance: 0xFFFFFFFE}
	_, err := sb.TryAllocSliceNear(spec, 2)
	if !errors.Is(err, ErrNoSliceNear) {
		t.Errorf("out of range alloc Got: %v Expected: %v", err, ErrNoSliceNear)
	}
}

func TestAddressSpecWithin(t *testing.T) {
	spec := AddressSpec{NearAddress: 0x10000000, MaxDistance: 0x1000}
	if !spec.Within(0x10001000) {
		t.Error("edge of range reported out of range")
	}
	if spec.Within(0x10001001) {
		t.Error("past range reported in range")
	}
	if !spec.Within(0x0FFFF000) {
		t.Error("below anchor edge reported out of range")
	}
}
