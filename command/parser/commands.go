/*
 * zhook - Console commands.
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

package parser

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	dis "github.com/rcornwell/zhook/arch/disassemble"
	rel "github.com/rcornwell/zhook/arch/relocator"
	wr "github.com/rcornwell/zhook/arch/writer"
	"github.com/rcornwell/zhook/interceptor"
)

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return addr, nil
}

func parseCode(s string) ([]byte, error) {
	code, err := hex.DecodeString(s)
	if err != nil || len(code) == 0 {
		return nil, fmt.Errorf("bad code %q", s)
	}
	return code, nil
}

// List instructions decoded from code, one per line.
func listCode(code []byte, address uint64) {
	d := dis.New()
	defer d.Close()

	for len(code) > 0 {
		insn, err := d.Disasm(code, address)
		if err != nil {
			fmt.Printf("%08X  %-14s %s\n", address, strings.ToUpper(hex.EncodeToString(code)), "?")
			return
		}
		raw := strings.ToUpper(hex.EncodeToString(insn.Bytes))
		fmt.Printf("%08X  %-14s %s\n", address, raw, dis.Format(insn))
		code = code[insn.Len:]
		address += uint64(insn.Len)
	}
}

// Handle disasm command: disasm <hex> [addr].
func disasm(_ *Session, args []string) (bool, error) {
	slog.Debug("Command Disasm")

	if len(args) < 1 || len(args) > 2 {
		return false, errors.New("usage: disasm <hex> [addr]")
	}
	code, err := parseCode(args[0])
	if err != nil {
		return false, err
	}
	address := uint64(0)
	if len(args) == 2 {
		if address, err = parseAddr(args[1]); err != nil {
			return false, err
		}
	}

	listCode(code, address)
	return false, nil
}

// Handle reloc command: reloc <srcaddr> <dstaddr> <hex>.
func reloc(_ *Session, args []string) (bool, error) {
	slog.Debug("Command Reloc")

	if len(args) != 3 {
		return false, errors.New("usage: reloc <srcaddr> <dstaddr> <hex>")
	}
	src, err := parseAddr(args[0])
	if err != nil {
		return false, err
	}
	dst, err := parseAddr(args[1])
	if err != nil {
		return false, err
	}
	code, err := parseCode(args[2])
	if err != nil {
		return false, err
	}

	// Worst case growth is CGIJE doubling into twelve bytes.
	out := make([]byte, 2*len(code)+wr.MaxInsnSize)
	cw := wr.New(out, dst)
	rl := rel.New(code, src, cw)
	defer rl.Unref()
	defer cw.Unref()

	read := 0
	for {
		n, _ := rl.ReadOne()
		if n == 0 {
			break
		}
		read = n
	}
	if read == 0 {
		return false, errors.New("no relocatable instructions at input")
	}
	rl.WriteAll()

	fmt.Printf("moved %d bytes, wrote %d\n", read, cw.Offset())
	listCode(out[:cw.Offset()], dst)
	if read < len(code) {
		fmt.Printf("stopped before: %s\n",
			strings.ToUpper(hex.EncodeToString(code[read:])))
	}
	return false, nil
}

// Handle targets command.
func listTargets(s *Session, _ []string) (bool, error) {
	for _, name := range s.names {
		t := s.targets[name]
		state := ""
		if t.hooked {
			state = "  hooked"
		}
		fmt.Printf("%-16s %08X  %d bytes%s\n", t.Name, t.Address, len(t.code), state)
	}
	return false, nil
}

func findTarget(s *Session, args []string) (*target, error) {
	if len(args) != 1 {
		return nil, errors.New("target name required")
	}
	t, ok := s.targets[args[0]]
	if !ok {
		return nil, errors.New("no such target: " + args[0])
	}
	return t, nil
}

// Handle hook command: build the trampolines and patch the target.
func hook(s *Session, args []string) (bool, error) {
	slog.Debug("Command Hook")

	t, err := findTarget(s, args)
	if err != nil {
		return false, err
	}
	if t.hooked {
		return false, errors.New("target already hooked: " + t.Name)
	}

	ctx := &interceptor.FunctionContext{
		FunctionAddress: t.Address,
		FunctionCode:    t.code,
		CtxAddress:      s.nextCtx,
	}
	s.nextCtx += 8

	if err = s.backend.CreateTrampoline(ctx); err != nil {
		return false, err
	}
	s.backend.ActivateTrampoline(ctx, t.code)
	t.ctx = ctx
	t.hooked = true

	fmt.Printf("on-enter  %08X\n", ctx.OnEnterTrampoline)
	fmt.Printf("on-leave  %08X\n", ctx.OnLeaveTrampoline)
	fmt.Printf("on-invoke %08X\n", ctx.OnInvokeTrampoline)
	fmt.Printf("patched prologue:\n")
	listCode(t.code[:ctx.OverwrittenPrologueLen], t.Address)
	return false, nil
}

// Handle unhook command: restore and verify the original bytes.
func unhook(s *Session, args []string) (bool, error) {
	slog.Debug("Command Unhook")

	t, err := findTarget(s, args)
	if err != nil {
		return false, err
	}
	if !t.hooked {
		return false, errors.New("target not hooked: " + t.Name)
	}

	s.backend.DeactivateTrampoline(t.ctx, t.code)
	if err = s.backend.DestroyTrampoline(t.ctx); err != nil {
		return false, err
	}

	n := t.ctx.OverwrittenPrologueLen
	if !bytes.Equal(t.code[:n], t.Code[:n]) {
		return false, errors.New("restored bytes differ from original")
	}
	t.ctx = nil
	t.hooked = false

	fmt.Printf("restored %d bytes at %08X\n", n, t.Address)
	return false, nil
}

// Handle help command.
func help(_ *Session, _ []string) (bool, error) {
	fmt.Println("disasm <hex> [addr]              decode instructions")
	fmt.Println("reloc <srcaddr> <dstaddr> <hex>  relocate instructions")
	fmt.Println("targets                          list loaded targets")
	fmt.Println("hook <name>                      install a hook in the sandbox")
	fmt.Println("unhook <name>                    restore a hooked target")
	fmt.Println("quit                             leave the console")
	return false, nil
}

// Handle quit command.
func quit(_ *Session, _ []string) (bool, error) {
	return true, nil
}
