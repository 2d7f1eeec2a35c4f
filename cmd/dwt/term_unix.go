//go:build !windows

package main

import (
	"github.com/pkg/errors"
	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// setRawIO puts stdin into raw mode for the REPL (spec §6 "repl"),
// grounded on ngaro's cmd/retro/term_linux.go: this keeps ctrl-C and
// in-progress lines from double-echoing while typed. The returned
// func restores the original terminal state; callers defer it
// immediately.
func setRawIO() (func(), error) {
	var tios unix.Termios
	if err := termios.Tcgetattr(0, &tios); err != nil {
		return nil, errors.Wrap(err, "Tcgetattr failed")
	}
	a := tios
	a.Lflag &^= unix.ICANON | unix.IEXTEN | unix.ECHO
	a.Cc[unix.VMIN] = 1
	a.Cc[unix.VTIME] = 0
	if err := termios.Tcsetattr(0, termios.TCSANOW, &a); err != nil {
		termios.Tcsetattr(0, termios.TCSANOW, &tios)
		return nil, errors.Wrap(err, "Tcsetattr failed")
	}
	return func() {
		termios.Tcsetattr(0, termios.TCSANOW, &tios)
	}, nil
}
