/*
 * zhook - Hook file parser.
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

package hookfile

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

/* Hook file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := 'target' <name> <address> <code>
 * <name> ::= <string>
 * <address> ::= hex number, 0x prefix optional
 * <code> ::= hex digit pairs, the target's first instructions
 */

// Target is a named code image the console can hook.
type Target struct {
	Name    string
	Address uint64
	Code    []byte
}

// Load reads targets from the named file.
func Load(name string) ([]Target, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads target definitions line by line.
func Parse(r io.Reader) ([]Target, error) {
	var targets []Target
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] != "target" {
			return nil, fmt.Errorf("line %d: unknown keyword %q", lineNumber, fields[0])
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: target needs name, address and code", lineNumber)
		}

		name := fields[1]
		if seen[name] {
			return nil, fmt.Errorf("line %d: duplicate target %q", lineNumber, name)
		}

		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad address %q", lineNumber, fields[2])
		}

		code, err := hex.DecodeString(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad code %q", lineNumber, fields[3])
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("line %d: empty code", lineNumber)
		}

		seen[name] = true
		targets = append(targets, Target{Name: name, Address: addr, Code: code})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}
