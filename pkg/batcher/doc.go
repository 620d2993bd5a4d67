// Package batcher splits a function's input list into batched tasks at start
// time. Each task carries a contiguous slice of the inputs plus the merged
// parameter map; the batch as a whole covers every input exactly once.
package batcher
