// Package demo is a small record-counting tool in the shape the rewriter
// produces: its main was renamed to Main, its os.Exit calls now go through
// the redirect package, and it registers itself as entry "demo".
//
// Usage: demo [-v] [--version] FILE
//
// FILE holds one "key=value" record per line. The tool exits 2 on usage
// errors, immediately exits 1 on a malformed record, returns when FILE has
// no records and otherwise exits with the number of records (at most 125).
package demo

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	redirect "github.com/psantana5/exitshim/pkg/redirect"
)

const Version = "demo 1.0"

// Output receives everything the tool prints.
var Output io.Writer = os.Stdout

var weights = []int{1, 2, 3, 5, 8, 13, 21, 34}

func init() {
	redirect.MustRegister(redirect.Rename("demo", redirect.FromGoMain(Main)))
}

func usage() {
	fmt.Fprintln(Output, "usage: demo [-v] [--version] FILE")
	redirect.Exit(2)
}

func Main() {
	out := bufio.NewWriter(Output)
	redirect.AtExit(func() { out.Flush() })

	verbose := false
	var path string
	for _, arg := range os.Args[1:] {
		switch {
		case arg == "--version":
			fmt.Fprintln(out, Version)
			redirect.Exit(0)
		case arg == "-v":
			verbose = true
		case strings.HasPrefix(arg, "-"):
			usage()
		case path != "":
			usage()
		default:
			path = arg
		}
	}
	if path == "" {
		usage()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(out, "demo:", err)
		redirect.Exit(2)
	}

	n, score := parse(data)
	if verbose {
		fmt.Fprintf(out, "%d records, score %d\n", n, score)
	}
	out.Flush()

	if n == 0 {
		return
	}
	if n > 125 {
		n = 125
	}
	returnStatus(n)
}

// returnStatus ends Main the way a converted C-style tool does: with an
// explicit exit carrying the result.
func returnStatus(n int) {
	redirect.Exit(n)
}

func parse(data []byte) (records, score int) {
	for lineNo, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		key, value := parseRecord(lineNo+1, line)
		score += weigh(key, value)
		records++
	}
	return records, score
}

func parseRecord(lineNo int, line []byte) (string, string) {
	key, value, ok := bytes.Cut(line, []byte("="))
	if !ok || len(key) == 0 {
		corrupt(lineNo, "missing key")
	}
	return string(key), string(value)
}

func weigh(key, value string) int {
	if key != "w" {
		return len(value)
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		corrupt(0, "weight is not a number")
	}
	// Out-of-range weights are a real bug for the fuzzer to find.
	return weights[i]
}

// corrupt gives up without running exit hooks: buffered output is lost.
func corrupt(lineNo int, msg string) {
	fmt.Fprintf(os.Stderr, "demo: line %d: %s\n", lineNo, msg)
	redirect.ImmediateExit(1)
}
