package bpf

import (
	"io"
	"log"
	"os"
)

// PrintDebugInfo toggles verbose logging from the validator. It is false
// by default so library consumers see no output on stderr. It is read
// once, when the package is initialised; changing it afterwards does not
// redirect the logger.
var PrintDebugInfo = false

var logger *log.Logger

func init() {
	w := io.Discard
	if PrintDebugInfo {
		w = os.Stderr
	}
	logger = log.New(w, "bpf: ", log.Lshortfile)
}
