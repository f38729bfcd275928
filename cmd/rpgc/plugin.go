package main

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/chazu/rpgcode/vm"
)

// execPlugin reaches an external function library through its command
// line:
//
//	<plugin> query <name>        exit status 0 if the plugin has name
//	<plugin> exec <line> [ret]   runs a call line; prints the result
//
// The first line of exec's output is the result: a number, or text.
type execPlugin struct {
	path  string
	known map[string]bool
	run   func(path string, args ...string) ([]byte, error)
}

func newExecPlugin(path string) *execPlugin {
	return &execPlugin{path: path, known: make(map[string]bool), run: runCommand}
}

func runCommand(path string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.Command(path, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

func (e *execPlugin) Query(name string) bool {
	if has, ok := e.known[name]; ok {
		return has
	}
	_, err := e.run(e.path, "query", name)
	var exit *exec.ExitError
	if err != nil && !errors.As(err, &exit) {
		log.Warningf("plugin %s: %s", e.path, err)
	}
	e.known[name] = err == nil
	return err == nil
}

func (e *execPlugin) Execute(line string, wantReturn bool) (vm.PluginResult, error) {
	args := []string{"exec", line}
	if wantReturn {
		args = append(args, "ret")
	}
	out, err := e.run(e.path, args...)
	if err != nil {
		return vm.PluginResult{}, vm.Errorf("Plugin call %s failed: %v", line, err)
	}
	return parsePluginOutput(out), nil
}

// parsePluginOutput reads the first line of output as a number if it is
// one, and as text otherwise.
func parsePluginOutput(out []byte) vm.PluginResult {
	first, _, _ := strings.Cut(string(out), "\n")
	first = strings.TrimRight(first, "\r")
	if n, err := strconv.ParseFloat(strings.TrimSpace(first), 64); err == nil {
		return vm.PluginResult{Type: vm.TypeNum, Number: n}
	}
	return vm.PluginResult{Type: vm.TypeLit, Text: first}
}
