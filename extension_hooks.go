package reverify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-reverify/adapters/gocommand"
	"github.com/goliatone/go-reverify/core"
)

// VerifierPack contributes verifiers from a downstream module.
type VerifierPack struct {
	Name      string
	Verifiers []core.Verifier
}

type CommandQueryBundleFactory func(service gocommand.OperatorService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	verifierPacks map[string]VerifierPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		verifierPacks: map[string]VerifierPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterVerifierPack(pack VerifierPack) error {
	if h == nil {
		return fmt.Errorf("reverify: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("reverify: verifier pack name is required")
	}
	if len(pack.Verifiers) == 0 {
		return fmt.Errorf("reverify: verifier pack %q has no verifiers", name)
	}
	for _, verifier := range pack.Verifiers {
		if verifier == nil {
			return fmt.Errorf("reverify: verifier pack %q contains nil verifier", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.verifierPacks[name]; exists {
		return fmt.Errorf("reverify: verifier pack %q already registered", name)
	}
	h.verifierPacks[name] = VerifierPack{
		Name:      name,
		Verifiers: append([]core.Verifier(nil), pack.Verifiers...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("reverify: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("reverify: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("reverify: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("reverify: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyVerifierPacks registers every pack verifier in pack name order.
func (h *ExtensionHooks) ApplyVerifierPacks(registry *core.VerifierRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("reverify: verifier registry is required")
	}
	for _, pack := range h.VerifierPacks() {
		for _, verifier := range pack.Verifiers {
			if err := registry.Register(verifier); err != nil {
				return fmt.Errorf("reverify: verifier pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

// VerifierKinds lists the identity kinds the registered packs cover.
func (h *ExtensionHooks) VerifierKinds() map[core.IdentityKind]bool {
	kinds := map[core.IdentityKind]bool{}
	for _, pack := range h.VerifierPacks() {
		for _, verifier := range pack.Verifiers {
			kinds[verifier.Kind()] = true
		}
	}
	return kinds
}

func (h *ExtensionHooks) BuildCommandQueryBundles(service gocommand.OperatorService) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("reverify: operator service is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) VerifierPacks() []VerifierPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]VerifierPack, 0, len(h.verifierPacks))
	for _, name := range sortedKeys(h.verifierPacks) {
		pack := h.verifierPacks[name]
		out = append(out, VerifierPack{
			Name:      pack.Name,
			Verifiers: append([]core.Verifier(nil), pack.Verifiers...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](in map[string]V) []string {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
