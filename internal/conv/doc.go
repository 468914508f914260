// Package conv provides safe integer type conversion utilities.
//
// These functions perform bounds checking to prevent integer overflow/underflow
// when converting between signed and unsigned integer types, e.g. when
// validating option values supplied by callers.
//
// For conversions that are provably safe by domain constraints (e.g., loop
// indices, cell offsets masked to the segment width), use direct type casts instead.
package conv
