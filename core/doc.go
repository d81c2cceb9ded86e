// Package core contains the canonical re-verification domain: tiers, identity
// links, aggregate results, run records, and the contracts that directories,
// verifiers, run stores and job queues must satisfy. Orchestration, storage and
// transport packages depend on core; core must not depend on them.
package core
