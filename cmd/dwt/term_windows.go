//go:build windows

package main

import "github.com/pkg/errors"

// setRawIO is unsupported on Windows (spec §6's REPL falls back to the
// buffered bufio.Scanner loop), mirroring ngaro's cmd/retro/term_windows.go
// split exactly.
func setRawIO() (func(), error) {
	return nil, errors.New("raw IO not supported")
}
