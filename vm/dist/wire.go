package dist

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/rpgcode/vm"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrHashMismatch       = errors.New("bundle hash mismatch")
	ErrUnsupportedVersion = errors.New("unsupported bundle version")
	ErrMalformed          = errors.New("malformed bundle")
)

// cborEncMode uses canonical mode so that equal bundles encode to equal
// bytes, which the content hash relies on.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalBundle serializes a Bundle to CBOR bytes.
func MarshalBundle(b *Bundle) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// UnmarshalBundle deserializes a Bundle from CBOR bytes.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("dist: unmarshal bundle: %w", err)
	}
	return &b, nil
}

// ContentHash returns the SHA-256 of the bundle's canonical encoding with
// the Hash field zeroed.
func ContentHash(b *Bundle) ([32]byte, error) {
	c := *b
	c.Hash = [32]byte{}
	data, err := cborEncMode.Marshal(&c)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// Seal stores the content hash in the bundle.
func Seal(b *Bundle) error {
	h, err := ContentHash(b)
	if err != nil {
		return fmt.Errorf("dist: seal %s: %w", b.File, err)
	}
	b.Hash = h
	return nil
}

// Verify checks that the bundle's declared hash matches its content.
func Verify(b *Bundle) error {
	h, err := ContentHash(b)
	if err != nil {
		return fmt.Errorf("dist: verify %s: %w", b.File, err)
	}
	if h != b.Hash {
		return fmt.Errorf("dist: %s: %w: declared %x, computed %x", b.File, ErrHashMismatch, b.Hash[:8], h[:8])
	}
	return nil
}

// Encode converts, seals and serializes a unit in one step.
func Encode(u *vm.Unit) ([]byte, error) {
	b := FromUnit(u)
	if err := Seal(b); err != nil {
		return nil, err
	}
	return MarshalBundle(b)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser reads bundles as program source. It implements vm.Parser.
type Parser struct {
	// Policy decides which host builtins a bundle may call. A nil policy
	// allows all.
	Policy *Policy
}

// NewParser creates a parser that enforces policy.
func NewParser(policy *Policy) *Parser {
	return &Parser{Policy: policy}
}

// Parse decodes and verifies the bundle in src. The policy is checked
// against the builtins the decoded code calls; the bundle's Requires list
// must agree with them. The unit is named after the file it was loaded
// from.
func (p *Parser) Parse(name string, src []byte) (*vm.Unit, error) {
	b, err := UnmarshalBundle(src)
	if err != nil {
		return nil, err
	}
	if err := Verify(b); err != nil {
		return nil, err
	}
	u, err := b.Unit()
	if err != nil {
		return nil, err
	}

	calls := builtinCalls(u.Code)
	if p.Policy != nil {
		if err := p.Policy.Check(calls); err != nil {
			return nil, fmt.Errorf("dist: %s: %w", name, err)
		}
	}
	if !sameNames(calls, b.Requires) {
		return nil, fmt.Errorf("dist: %s: %w: requires %v, code calls %v", name, ErrMalformed, b.Requires, calls)
	}
	u.File = name
	return u, nil
}

// sameNames compares a declared builtin list with a scanned one.
func sameNames(scanned, declared []string) bool {
	if len(scanned) != len(declared) {
		return false
	}
	for i := range scanned {
		if !strings.EqualFold(scanned[i], declared[i]) {
			return false
		}
	}
	return true
}
