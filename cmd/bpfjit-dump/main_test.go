// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/malfaux/bpfjit/bpf"
)

func encode(t *testing.T, insns []bpf.Instruction) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, insn := range insns {
		raw := struct {
			Code uint16
			Jt   uint8
			Jf   uint8
			K    uint32
		}{insn.Code, insn.Jt, insn.Jf, insn.K}
		if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestReadProgramRoundTrips(t *testing.T) {
	want := []bpf.Instruction{
		{Code: bpf.ClassLD | bpf.SizeB | bpf.ModeABS, K: 0},
		{Code: bpf.ClassRET | bpf.RvalA},
	}
	got, err := readProgram(bytes.NewReader(encode(t, want)))
	if err != nil {
		t.Fatalf("readProgram() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("readProgram() returned %d instructions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadProgramRejectsEmpty(t *testing.T) {
	if _, err := readProgram(bytes.NewReader(nil)); err == nil {
		t.Error("readProgram(empty) = nil error, want one")
	}
}

func TestRunDisassemblesAndCompiles(t *testing.T) {
	insns := []bpf.Instruction{
		{Code: bpf.ClassLD | bpf.ModeIMM, K: 1},
		{Code: bpf.ClassRET | bpf.RvalA},
	}

	dir := t.TempDir()
	path := dir + "/prog.bpf"
	if err := os.WriteFile(path, encode(t, insns), 0o644); err != nil {
		t.Fatal(err)
	}

	flagCompile = true
	defer func() { flagCompile = false }()

	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	if err := run(cmd, []string{path}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "ld #1") {
		t.Errorf("output missing disassembly, got:\n%s", got)
	}
	if !strings.Contains(got, "compiled ok") {
		t.Errorf("output missing compile summary, got:\n%s", got)
	}
}
