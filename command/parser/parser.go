/*
 * zhook - Console command parser.
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
	"errors"
	"sort"
	"strings"

	"github.com/rcornwell/zhook/alloc"
	"github.com/rcornwell/zhook/config/hookfile"
	"github.com/rcornwell/zhook/interceptor"
)

// Framework handler addresses the sandbox thunks embed. Nothing is
// ever executed in the sandbox, they only have to be distinct.
const (
	enterHandlerAddr = 0x7F000000
	leaveHandlerAddr = 0x7F000100
)

// One loaded target image and its hook state.
type target struct {
	hookfile.Target
	code   []byte // Mutable copy the hook patches.
	ctx    *interceptor.FunctionContext
	hooked bool
}

// Session holds the sandbox a console works against.
type Session struct {
	backend *interceptor.Backend
	targets map[string]*target
	names   []string // Load order, for listings.
	nextCtx uint64
}

// NewSession builds a sandbox allocator at base and loads the given
// targets into it.
func NewSession(base uint64, targets []hookfile.Target) (*Session, error) {
	backend, err := interceptor.NewBackend(alloc.NewSandbox(base),
		enterHandlerAddr, leaveHandlerAddr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		backend: backend,
		targets: map[string]*target{},
		nextCtx: 0x70000000,
	}
	for _, tg := range targets {
		code := make([]byte, len(tg.Code))
		copy(code, tg.Code)
		t := &target{Target: tg, code: code}
		s.targets[tg.Name] = t
		s.names = append(s.names, tg.Name)
	}
	return s, nil
}

// Close releases the backend.
func (s *Session) Close() error {
	return s.backend.Close()
}

type cmd struct {
	Name     string
	Min      int // Shortest accepted abbreviation.
	Process  func(s *Session, args []string) (bool, error)
	Complete func(s *Session, word string) []string
}

var cmdList = []cmd{
	{Name: "disasm", Min: 3, Process: disasm},
	{Name: "reloc", Min: 3, Process: reloc},
	{Name: "targets", Min: 3, Process: listTargets},
	{Name: "hook", Min: 4, Process: hook, Complete: targetComplete},
	{Name: "unhook", Min: 6, Process: unhook, Complete: targetComplete},
	{Name: "help", Min: 4, Process: help},
	{Name: "quit", Min: 4, Process: quit},
}

func matchList(name string) []*cmd {
	var match []*cmd
	for i := range cmdList {
		c := &cmdList[i]
		if len(name) >= c.Min && strings.HasPrefix(c.Name, name) {
			match = append(match, c)
		}
	}
	return match
}

// ProcessCommand runs one console line. It reports whether the console
// should exit.
func ProcessCommand(commandLine string, s *Session) (bool, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return false, nil
	}

	name := strings.ToLower(fields[0])
	match := matchList(name)
	if len(match) == 0 {
		return false, errors.New("command not found: " + name)
	}
	if len(match) > 1 {
		return false, errors.New("unique command not found: " + name)
	}

	return match[0].Process(s, fields[1:])
}

// CompleteCmd offers completions for a partial console line.
func CompleteCmd(commandLine string, s *Session) []string {
	fields := strings.SplitN(commandLine, " ", 2)

	if len(fields) == 1 {
		var names []string
		for i := range cmdList {
			if strings.HasPrefix(cmdList[i].Name, strings.ToLower(fields[0])) {
				names = append(names, cmdList[i].Name+" ")
			}
		}
		return names
	}

	match := matchList(strings.ToLower(fields[0]))
	if len(match) != 1 || match[0].Complete == nil {
		return nil
	}

	var lines []string
	for _, w := range match[0].Complete(s, fields[1]) {
		lines = append(lines, fields[0]+" "+w)
	}
	return lines
}

func targetComplete(s *Session, word string) []string {
	var names []string
	for _, name := range s.names {
		if strings.HasPrefix(name, word) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
