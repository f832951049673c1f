/*
 * zhook - s390x function hooking console.
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

package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	getopt "github.com/pborman/getopt/v2"
	parser "github.com/rcornwell/zhook/command/parser"
	reader "github.com/rcornwell/zhook/command/reader"
	hookfile "github.com/rcornwell/zhook/config/hookfile"
	logger "github.com/rcornwell/zhook/util/logger"
)

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Hook file with target definitions")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optBase := getopt.StringLong("base", 'b', "20000000", "Sandbox slice base address (hex)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}))
	slog.SetDefault(Logger)

	Logger.Info("zhook started")

	base, err := strconv.ParseUint(strings.TrimPrefix(*optBase, "0x"), 16, 64)
	if err != nil {
		Logger.Error("Bad base address " + *optBase)
		os.Exit(1)
	}

	var targets []hookfile.Target
	if *optConfig != "" {
		targets, err = hookfile.Load(*optConfig)
		if err != nil {
			Logger.Error(err.Error())
			os.Exit(1)
		}
		Logger.Info("Loaded hook file", "targets", len(targets))
	}

	session, err := parser.NewSession(base, targets)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	reader.ConsoleReader(session)

	if err = session.Close(); err != nil {
		Logger.Error(err.Error())
	}
	Logger.Info("zhook stopped")
}
