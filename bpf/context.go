package bpf

// HostFunc is a host-provided extension function invoked by a BPF_COP or
// BPF_COPX instruction. It is called with the same three logical
// arguments the native code passes: the context it was looked up from,
// the packet arguments and a pointer to the filter's scratch state. Go's
// rendition collapses the native "three-argument call" into ordinary
// parameters rather than raw pointers.
type HostFunc func(ctx *Context, args *Args, state *State) uint32

// Context supplies the extension-call table referenced by BPF_COP/BPF_COPX
// instructions. A nil *Context is legal and means "no extension calls are
// available"; the JIT must not dereference it in that case.
type Context struct {
	CopFuncs []HostFunc
}

// NFuncs returns the number of extension functions available, or 0 for a
// nil Context.
func (c *Context) NFuncs() int {
	if c == nil {
		return 0
	}
	return len(c.CopFuncs)
}

// ChainReader supplies segmented ("chained") packet data for kernel-mode
// programs where the flat Args.Pkt view may be empty or truncated. It
// plays the role of the NetBSD mbuf helper functions read_word/read_half/
// read_byte: each method returns ok=false on failure, in which case the
// emitted function returns 0.
type ChainReader interface {
	ReadWord(off uint32) (val uint32, ok bool)
	ReadHalf(off uint32) (val uint16, ok bool)
	ReadByte(off uint32) (val uint8, ok bool)
}

// Args is the argument structure passed to a compiled program's Run
// method (and, unchanged, to every HostFunc it calls). Pkt is the flat
// view of the packet; a kernel-mode program additionally consults Chain
// when Pkt is too short to satisfy a read.
type Args struct {
	Pkt     []byte
	WireLen uint32
	Chain   ChainReader
}

// State is the filter's scratch memory, visible to extension functions
// so they can read or update M[] and the accumulator the same way the
// native BPF_COP calling convention exposes them.
type State struct {
	Mem [MemWords]uint32
	A   uint32
}
