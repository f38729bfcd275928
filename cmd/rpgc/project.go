package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/chazu/rpgcode/manifest"
	"github.com/chazu/rpgcode/savestore"
	"github.com/chazu/rpgcode/vm"
	"github.com/chazu/rpgcode/vm/dist"
)

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

// handleInitCommand processes the `rpgc init` subcommand.
// Usage:
//
//	rpgc init          # project in the working directory
//	rpgc init quest    # project in ./quest
func handleInitCommand(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := initProject(dir); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Created %s in %s\n", manifest.FileName, dir)
}

// initProject writes an rpgcode.toml and a sample program bundle.
func initProject(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(abs, manifest.FileName)); err == nil {
		return fmt.Errorf("%s already exists in %s", manifest.FileName, dir)
	}

	m := manifest.Default(abs)
	m.Project.Name = filepath.Base(abs)
	m.Project.Programs = []string{"main.prg"}
	if err := os.MkdirAll(m.ProgramDir(), 0755); err != nil {
		return err
	}

	data, err := dist.Encode(sampleProgram("main.prg"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.ProgramDir(), "main.prg"), data, 0644); err != nil {
		return err
	}
	return m.Write()
}

// sampleProgram greets the player, counts some gold and saves.
func sampleProgram(file string) *vm.Unit {
	a := vm.NewAssembler(file)
	a.Method("greet", "who").Open()
	a.Lit("Welcome, ").Arg("who").Lit("!").Builtin("mwin", 3).Line()
	a.Close()
	a.Lit("hero").Call("greet", 1).Line()
	a.ID("gold").Num(0).Op(vm.OpAssign, 2).Line()
	a.ID("gold").Num(3).Op(vm.OpLt, 2).While().Open()
	a.ID("gold").Op(vm.OpPreInc, 1).Line()
	a.Lit("gold: ").ID("gold").Builtin("mwin", 2).Line()
	a.Close()
	a.Lit("start").Builtin("save", 1).Line()
	return a.Build()
}

// ---------------------------------------------------------------------------
// dump
// ---------------------------------------------------------------------------

// handleDumpCommand prints a bundle's tables and instruction listing.
func handleDumpCommand(args []string) {
	if len(args) != 1 {
		fatalf("usage: rpgc dump <bundle>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}
	b, err := dist.UnmarshalBundle(data)
	if err != nil {
		fatalf("%v", err)
	}
	if err := dumpBundle(os.Stdout, b); err != nil {
		fatalf("%v", err)
	}
}

func dumpBundle(w io.Writer, b *dist.Bundle) error {
	verified := "ok"
	if err := dist.Verify(b); err != nil {
		verified = err.Error()
	}
	u, err := b.Unit()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "file:     %s\n", b.File)
	fmt.Fprintf(w, "version:  %d\n", b.Version)
	fmt.Fprintf(w, "hash:     %x (%s)\n", b.Hash[:8], verified)
	fmt.Fprintf(w, "requires: %v\n", b.Requires)
	if len(b.Includes) > 0 {
		fmt.Fprintf(w, "includes: %v\n", b.Includes)
	}
	for _, c := range u.Classes {
		fmt.Fprintf(w, "class %s %v: %d members, %d methods\n", c.Name, c.Inherits, len(c.Members), len(c.Methods))
	}
	for _, m := range u.Methods {
		fmt.Fprintf(w, "method %s(%d)\n", m.Name, m.Arity)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i := range u.Code {
		ins := &u.Code[i]
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", i, ins.Line, ins.Tag, ins)
	}
	return tw.Flush()
}

// ---------------------------------------------------------------------------
// slots
// ---------------------------------------------------------------------------

// handleSlotsCommand lists or deletes save slots.
func handleSlotsCommand(args []string) {
	fs := newFlagSet("slots")
	rm := fs.String("rm", "", "Delete the named slot")
	fs.Parse(args)

	m := loadManifest()
	configureLogging(m, -1)
	s, err := savestore.Open(m.DatabasePath())
	if err != nil {
		fatalf("%v", err)
	}
	defer s.Close()

	if *rm != "" {
		if err := s.Delete(*rm); err != nil {
			fatalf("%v", err)
		}
		return
	}

	infos, err := s.List()
	if err != nil {
		fatalf("%v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tSAVED\tTHREADS")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", info.Name, info.SavedAt.Format("2006-01-02 15:04:05"), info.Threads)
	}
	tw.Flush()
}
