// Package tiermem implements a tiered, self-curating memory store for
// conversational AI agents.
//
// Memories are short pieces of text plus a dense embedding. Each is
// scored for importance, classified into one of three tiers (core,
// active, background), and thereafter managed by a periodic lifecycle
// loop that ages, reinforces, promotes, demotes, consolidates,
// compresses, and evicts memories.
//
// Architecture:
//   - vectorstore: facade over an external vector database, one
//     collection per tier
//   - cache: bounded, self-tuning in-process caches in front of the
//     vector store, one per tier
//   - codec: tier-aware compression of the stable memory fields
//   - scorer: pure importance-scoring functions
//   - tier: tier definitions and promotion/demotion policy
//   - consolidator: clusters and merges near-duplicate memories
//   - evolver: per-cycle aging, reinforcement, and archival scoring
//   - service: the public store/retrieve/updateAccess/transitionTier API
//   - lifecycle: the periodic orchestrator tying the above together
//
// The embedding provider, the generative model, and the external
// vector database itself are treated as collaborators reached through
// narrow interfaces; this package does not implement them.
package tiermem
