// Package fmtt holds small formatting helpers shared across the daemon.
package fmtt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// ErrChain renders an error chain one layer per line, each with its
// concrete type, for Debug-level diagnostics on a failed admin command.
func ErrChain(err error) string {
	if err == nil {
		return "<nil>"
	}
	var b strings.Builder
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		fmt.Fprintf(&b, "[%d] %T: %v\n", i, e, e)
	}
	return b.String()
}

// SpewErr dumps err's full structure via spew, for verbose troubleshooting
// of dispatcher failures that don't reduce to a plain message.
func SpewErr(err error) string {
	return spew.Sdump(err)
}
