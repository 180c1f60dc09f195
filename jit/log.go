package jit

import (
	"io"
	"log"
	"os"
)

// PrintDebugInfo toggles verbose logging from Generate. It is false by
// default so library consumers see no output on stderr. It is read once,
// when the package is initialised; changing it afterwards does not
// redirect the logger.
var PrintDebugInfo = false

var logger *log.Logger

func init() {
	w := io.Discard
	if PrintDebugInfo {
		w = os.Stderr
	}
	logger = log.New(w, "jit: ", log.Lshortfile)
}

// debugAssertions gates development-time invariant checks; currently the
// only one is the kernel-mode zero-initialization invariant of §7 Kind 4,
// checked in emit. bpf.Validate does not check initialization, so a
// validated program can still trip it. A failed check panics rather than
// returning an error.
var debugAssertions = false

func assert(cond bool, msg string) {
	if debugAssertions && !cond {
		panic("jit: assertion failed: " + msg)
	}
}
