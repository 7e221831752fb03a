// Package patrimoine normalizes an investor's heterogeneous financial
// documents (PDF statements, CSV exports, a JSON manifest) into one canonical
// patrimony document.
//
// The pipeline is manifest-driven: the manifest declares every account, the
// parser strategy to use for each of its source files and an ordered fallback
// chain. A [Registry] dispatches to pluggable [Parser] implementations, a
// [CacheManager] memoizes parse results for immutable past years, and the
// [Normalizer] aggregates everything into a [Document] grouped by custodian.
package patrimoine
