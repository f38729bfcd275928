package dist

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/rpgcode/vm"
)

// ErrBuiltinDenied is returned when a bundle calls a host builtin its
// policy does not allow.
var ErrBuiltinDenied = errors.New("builtin denied")

// Policy decides which host builtins loaded bundles may call. Names are
// case-insensitive, like builtin names in the Env.
type Policy struct {
	allow map[string]bool // nil allows every builtin not denied
	deny  map[string]bool
}

// AllowAll returns a policy that allows every builtin.
func AllowAll() *Policy {
	return &Policy{}
}

// AllowOnly returns a policy that allows exactly the named builtins.
func AllowOnly(names []string) *Policy {
	p := &Policy{allow: make(map[string]bool, len(names))}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			p.allow[strings.ToLower(name)] = true
		}
	}
	return p
}

// Deny forbids name even if the policy otherwise allows it.
func (p *Policy) Deny(name string) {
	if p.deny == nil {
		p.deny = make(map[string]bool)
	}
	p.deny[strings.ToLower(name)] = true
}

// Allows reports whether a bundle may call the builtin name.
func (p *Policy) Allows(name string) bool {
	name = strings.ToLower(name)
	if p.deny[name] {
		return false
	}
	return p.allow == nil || p.allow[name]
}

// Check returns ErrBuiltinDenied naming every builtin in calls that the
// policy forbids.
func (p *Policy) Check(calls []string) error {
	var denied []string
	for _, name := range calls {
		if !p.Allows(name) {
			denied = append(denied, name)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("%w: %s", ErrBuiltinDenied, strings.Join(denied, ", "))
	}
	return nil
}

// builtinCalls lists the builtins code calls, lowercased and sorted.
func builtinCalls(code []vm.Instruction) []string {
	seen := make(map[string]bool)
	var names []string
	for _, ins := range code {
		if ins.Tag&vm.TypeFunc == 0 || ins.Op != vm.OpBuiltin {
			continue
		}
		name := strings.ToLower(ins.Lit)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
