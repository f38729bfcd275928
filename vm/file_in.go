package vm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
)

var loaderLog = commonlog.GetLogger("rpgcode.loader")

// ---------------------------------------------------------------------------
// Host services
// ---------------------------------------------------------------------------

// FileService is the host's view of program files.
type FileService interface {
	// Resolve maps a program path to the location ReadFile accepts.
	Resolve(name string) (string, error)
	ReadFile(resolved string) ([]byte, error)
}

// ReadLines returns the lines of a program file, for source listings.
func ReadLines(fs FileService, name string) ([]string, error) {
	resolved, err := fs.Resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// OSFiles serves program files from a directory on disk.
type OSFiles struct {
	Root string
}

func (f OSFiles) Resolve(name string) (string, error) {
	p := filepath.FromSlash(name)
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.Root, p)
	}
	p = filepath.Clean(p)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	return p, nil
}

func (f OSFiles) ReadFile(resolved string) ([]byte, error) {
	return os.ReadFile(resolved)
}

// Parser turns program source into a Unit. The RPGCode grammar lives
// outside this package; vm/dist provides a parser for compiled bundles.
type Parser interface {
	Parse(name string, src []byte) (*Unit, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(name string, src []byte) (*Unit, error)

func (f ParserFunc) Parse(name string, src []byte) (*Unit, error) {
	return f(name, src)
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// ErrIncludeCycle is returned when a program includes itself.
var ErrIncludeCycle = errors.New("include cycle")

// Loader opens programs through a FileService and Parser and caches them by
// resolved path. Every Open returns a fresh copy primed to its start.
type Loader struct {
	env    *Env
	files  FileService
	parser Parser

	// ProgramDir qualifies the file names given to runtime inclusion.
	ProgramDir string

	mu      sync.Mutex
	cache   map[string]*Program
	loading map[string]bool
}

// NewLoader creates a loader and installs it as env's loader.
func NewLoader(env *Env, files FileService, parser Parser) *Loader {
	l := &Loader{
		env:     env,
		files:   files,
		parser:  parser,
		cache:   make(map[string]*Program),
		loading: make(map[string]bool),
	}
	env.Loader = l
	return l
}

// Qualify returns the path a runtime inclusion of name refers to.
func (l *Loader) Qualify(name string) string {
	if l.ProgramDir == "" {
		return name
	}
	return path.Join(l.ProgramDir, name)
}

// Exists reports whether name resolves to a program file.
func (l *Loader) Exists(name string) bool {
	_, err := l.files.Resolve(name)
	return err == nil
}

// Open returns the program at name.
func (l *Loader) Open(name string) (*Program, error) {
	resolved, err := l.files.Resolve(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if p, ok := l.cache[resolved]; ok {
		l.mu.Unlock()
		loaderLog.Debugf("cache hit: %s", resolved)
		return p.Clone(), nil
	}
	if l.loading[resolved] {
		l.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, ErrIncludeCycle)
	}
	l.loading[resolved] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.loading, resolved)
		l.mu.Unlock()
	}()

	src, err := l.files.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	p, err := l.build(name, src)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[resolved] = p
	l.mu.Unlock()
	loaderLog.Infof("loaded %s (%d instructions)", name, len(p.code))
	return p.Clone(), nil
}

// LoadString parses src as a program named name. The result is not cached.
func (l *Loader) LoadString(name, src string) (*Program, error) {
	return l.build(name, []byte(src))
}

// Forget drops name from the cache.
func (l *Loader) Forget(name string) {
	resolved, err := l.files.Resolve(name)
	if err != nil {
		return
	}
	l.mu.Lock()
	delete(l.cache, resolved)
	l.mu.Unlock()
}

// build parses and links src and merges its compile-time inclusions.
func (l *Loader) build(name string, src []byte) (*Program, error) {
	unit, err := l.parser.Parse(name, src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", name, err)
	}
	if unit.File == "" {
		unit.File = name
	}
	p, err := NewProgram(l.env, unit)
	if err != nil {
		return nil, err
	}
	for _, inc := range unit.Includes {
		other, err := l.Open(l.Qualify(inc))
		if err != nil {
			l.env.Report(fmt.Sprintf("%s\nCould not include %s: %v", name, inc, err))
			continue
		}
		p.Include(other)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Runtime inclusion
// ---------------------------------------------------------------------------

// include(file) merges another program into the running one. A file that
// was already included is ignored.
func opInclude(c *Call) error {
	p := c.prg
	name := c.Arg(0).Text()
	l := p.env.Loader
	if l == nil {
		return errorf("Runtime inclusion: %v.", ErrNoLoader)
	}
	file := l.Qualify(name)
	for _, inc := range p.inclusions {
		if inc == file {
			return nil
		}
	}
	other, err := l.Open(file)
	if err != nil {
		loaderLog.Debugf("runtime inclusion of %s: %s", file, err)
		return errorf("Runtime inclusion: could not find %s.", name)
	}
	p.inclusions = append(p.inclusions, file)

	pos := p.pos
	p.merge(other)
	p.pos = pos
	return nil
}
