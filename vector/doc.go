// Package vector implements the TF-IDF text vectorization used for
// semantic cache lookups.
//
// A Generator maintains corpus statistics (document count and per-term
// document frequency) over the set of currently cached documents. Text is
// tokenized, weighted with TF-IDF, and L2-normalized so that the cosine
// similarity of two vectors reduces to their dot product.
//
// # Usage
//
//	gen := vector.NewGenerator()
//	stored := gen.Add("the quick brown fox jumps over the lazy dog")
//
//	query := gen.Vectorize("quick brown fox")
//	sim := vector.Cosine(query, stored)
//
// The Generator is not safe for concurrent use; callers are expected to
// guard it with their own lock alongside the data it indexes.
package vector
