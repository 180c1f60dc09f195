// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bpfjit-dump reads a raw classical-BPF program, validates it,
// prints its disassembly and optionally compiles it without running the
// result.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/malfaux/bpfjit/bpf"
	"github.com/malfaux/bpfjit/jit"
)

var (
	flagCompile bool
	flagKernel  bool
)

func main() {
	root := &cobra.Command{
		Use:   "bpfjit-dump [file]",
		Short: "Validate and disassemble a classical BPF program",
		Long: `bpfjit-dump reads a classical BPF program (the 8-byte-per-instruction
wire format: code uint16, jt uint8, jf uint8, k uint32, little-endian) from
a file or, with no argument, from stdin. It validates the program and
prints its disassembly. With --compile it also runs the JIT and reports
the compiled program's scratch/extension-call/init-mask summary, without
ever executing the generated code against attacker-supplied input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: run,
	}
	root.Flags().BoolVar(&flagCompile, "compile", false, "compile the program with the JIT and report its summary")
	root.Flags().BoolVar(&flagKernel, "kernel", false, "compile in kernel mode (only meaningful with --compile)")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	r, err := openInput(args)
	if err != nil {
		return err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	insns, err := readProgram(r)
	if err != nil {
		return fmt.Errorf("bpfjit-dump: %w", err)
	}

	if err := bpf.Validate(insns); err != nil {
		return fmt.Errorf("bpfjit-dump: invalid program: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), bpf.Disassemble(insns))

	if flagCompile {
		return compileAndReport(cmd, insns)
	}
	return nil
}

func openInput(args []string) (io.Reader, error) {
	if len(args) == 0 {
		return os.Stdin, nil
	}
	return os.Open(args[0])
}

// readProgram decodes a stream of 8-byte classical-BPF instruction
// records, the same layout Instruction shares with the wire format.
func readProgram(r io.Reader) ([]bpf.Instruction, error) {
	var insns []bpf.Instruction
	for {
		var raw struct {
			Code uint16
			Jt   uint8
			Jf   uint8
			K    uint32
		}
		err := binary.Read(r, binary.LittleEndian, &raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		insns = append(insns, bpf.Instruction{Code: raw.Code, Jt: raw.Jt, Jf: raw.Jf, K: raw.K})
	}
	if len(insns) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return insns, nil
}

func compileAndReport(cmd *cobra.Command, insns []bpf.Instruction) error {
	opts := jit.Options{}
	if flagKernel {
		opts.Mode = jit.ModeKernel
	}

	prog, err := jit.Generate(nil, insns, opts)
	if err != nil {
		return fmt.Errorf("bpfjit-dump: compile failed: %w", err)
	}
	defer prog.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "\ncompiled ok: nscratches=%d ncopfuncs=%d initmask=%#x\n",
		prog.NScratches, prog.NCopFuncs, prog.InitMask)
	return nil
}
