package core

import (
	"fmt"
	"sync"
)

// VerifierRegistry maps an identity kind to its verifier. It is filled once at
// startup and read concurrently afterwards.
type VerifierRegistry struct {
	mu        sync.RWMutex
	verifiers map[IdentityKind]Verifier
}

func NewVerifierRegistry(verifiers ...Verifier) (*VerifierRegistry, error) {
	registry := &VerifierRegistry{verifiers: make(map[IdentityKind]Verifier)}
	for _, verifier := range verifiers {
		if err := registry.Register(verifier); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *VerifierRegistry) Register(verifier Verifier) error {
	if r == nil {
		return fmt.Errorf("core: verifier registry is nil")
	}
	if verifier == nil {
		return fmt.Errorf("core: verifier is nil")
	}
	kind := verifier.Kind()
	if err := kind.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verifiers == nil {
		r.verifiers = make(map[IdentityKind]Verifier)
	}
	if _, exists := r.verifiers[kind]; exists {
		return fmt.Errorf("core: verifier already registered: %s", kind)
	}
	r.verifiers[kind] = verifier
	return nil
}

func (r *VerifierRegistry) Get(kind IdentityKind) (Verifier, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	verifier, ok := r.verifiers[kind]
	return verifier, ok
}

// Resolve returns ErrVerifierNotFound for kinds nobody registered.
func (r *VerifierRegistry) Resolve(kind IdentityKind) (Verifier, error) {
	verifier, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVerifierNotFound, kind)
	}
	return verifier, nil
}

// Kinds lists registered kinds in dispatch order.
func (r *VerifierRegistry) Kinds() []IdentityKind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]IdentityKind, 0, len(r.verifiers))
	for _, kind := range KnownIdentityKinds() {
		if _, ok := r.verifiers[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
