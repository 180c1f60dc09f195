// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

// copBridgeEntry and chainBridgeEntry are the assembly-declared entry
// points the JIT'd code calls through frame.copFn/frame.chainFn. Their
// bodies live in copbridge_amd64.s / chainbridge_amd64.s and simply
// forward to bridgeCop / bridgeChainRead using Go's own calling
// convention, which the generated machine code never has to know about.
func copBridgeEntry(f *frame)

func chainBridgeEntry(f *frame)
