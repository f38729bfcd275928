// rpgc - runs RPGCode program bundles
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/rpgcode/manifest"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("rpgc")

func main() {
	if len(os.Args) > 1 {
		args := os.Args[2:]
		switch os.Args[1] {
		case "init":
			handleInitCommand(args)
			return
		case "dump":
			handleDumpCommand(args)
			return
		case "slots":
			handleSlotsCommand(args)
			return
		case "help", "-h", "--help":
			usage()
			return
		}
	}
	handleRunCommand(os.Args[1:])
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: rpgc [run options] [programs...]\n")
	fmt.Fprintf(os.Stderr, "       rpgc init [dir]\n")
	fmt.Fprintf(os.Stderr, "       rpgc dump <bundle>\n")
	fmt.Fprintf(os.Stderr, "       rpgc slots [-rm name]\n\n")
	fmt.Fprintf(os.Stderr, "Runs the programs named on the command line, or the [project] programs of\n")
	fmt.Fprintf(os.Stderr, "the nearest rpgcode.toml, as cooperative threads.\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  rpgc init quest          # Create a sample project\n")
	fmt.Fprintf(os.Stderr, "  rpgc                     # Run the project's programs\n")
	fmt.Fprintf(os.Stderr, "  rpgc -debug main.prg     # Step through main.prg on the console\n")
	fmt.Fprintf(os.Stderr, "  rpgc -restore slot1      # Continue from a save slot\n")
}

// loadManifest finds the project configuration, falling back to defaults
// rooted at the working directory.
func loadManifest() *manifest.Manifest {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		m = manifest.Default(wd)
	}
	return m
}

// configureLogging applies the [log] section. verbosity < 0 keeps the
// configured value.
func configureLogging(m *manifest.Manifest, verbosity int) {
	if verbosity < 0 {
		verbosity = m.Log.Verbosity
	}
	var path *string
	if p := m.LogPath(); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = usage
	return fs
}
