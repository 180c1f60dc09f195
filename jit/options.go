package jit

// Mode selects which of the two build flavours spec.md describes the
// emitted function should follow.
type Mode int

const (
	// ModeUserspace is the default: any out-of-bounds packet read
	// branches straight to the shared return-0 tail.
	ModeUserspace Mode = iota
	// ModeKernel additionally threads packet reads through a
	// ChainReader fallback (the "mchain handler") before giving up,
	// for callers whose packet data may arrive as a segmented buffer.
	ModeKernel
)

// Options configures a single call to Generate. The zero value is the
// common case: userspace mode, no extra instrumentation.
type Options struct {
	// Mode selects the userspace or kernel code shape (see Mode).
	Mode Mode

	// EmitBoundsChecks is accepted but not read by Generate or the
	// emitter: setting it changes nothing in the compiled code.
	EmitBoundsChecks bool
}
