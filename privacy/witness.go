// Package privacy implements the disclosure boundary between private circuit
// inputs and publicly visible state. A Witness value can be computed over but
// never read back; Disclose is the single promotion point to a public value.
package privacy

import (
	"errors"
)

// ErrWitnessNotDisclosed is returned by any serialization attempt on a
// Witness. Reaching it means a private value was about to cross a public
// boundary without passing through Disclose.
var ErrWitnessNotDisclosed = errors.New("witness value has not been disclosed")

// Witness wraps a private circuit input. The zero value wraps T's zero
// value. There is no accessor from a Witness back to its raw value: circuit
// code computes over it with Map and friends, and only Disclose produces a
// readable result.
type Witness[T any] struct {
	v T
}

// NewWitness wraps a private input value.
func NewWitness[T any](v T) Witness[T] {
	return Witness[T]{v: v}
}

// String redacts the wrapped value, so a Witness reaching a log line or a
// failure reason never prints its content.
func (w Witness[T]) String() string {
	return "witness(redacted)"
}

// GoString redacts the wrapped value from %#v formatting.
func (w Witness[T]) GoString() string {
	return w.String()
}

// MarshalJSON refuses to serialize the wrapped value.
func (w Witness[T]) MarshalJSON() ([]byte, error) {
	return nil, ErrWitnessNotDisclosed
}

// MarshalCBOR refuses to serialize the wrapped value.
func (w Witness[T]) MarshalCBOR() ([]byte, error) {
	return nil, ErrWitnessNotDisclosed
}

// Disclosed is a value explicitly promoted to public visibility. Once
// created it may appear in ledger deltas, public outputs and failure
// reasons.
type Disclosed[T any] struct {
	v T
}

// Disclose promotes a witness-derived value to public visibility. It is the
// only way to read a Witness.
func Disclose[T any](w Witness[T]) Disclosed[T] {
	return Disclosed[T]{v: w.v}
}

// Public wraps an already public value, so mixed private/public pipelines
// can use one type.
func Public[T any](v T) Disclosed[T] {
	return Disclosed[T]{v: v}
}

// Value returns the disclosed value.
func (d Disclosed[T]) Value() T {
	return d.v
}

// Map computes f over a witness. The result stays wrapped.
func Map[T, U any](w Witness[T], f func(T) U) Witness[U] {
	return Witness[U]{v: f(w.v)}
}

// Map2 combines two witnesses. The result stays wrapped.
func Map2[A, B, U any](a Witness[A], b Witness[B], f func(A, B) U) Witness[U] {
	return Witness[U]{v: f(a.v, b.v)}
}

// Map3 combines three witnesses. The result stays wrapped.
func Map3[A, B, C, U any](a Witness[A], b Witness[B], c Witness[C], f func(A, B, C) U) Witness[U] {
	return Witness[U]{v: f(a.v, b.v, c.v)}
}

// Eq compares two witnesses. The one bit result stays wrapped until the
// caller discloses it, typically feeding an assertion.
func Eq[T comparable](a, b Witness[T]) Witness[bool] {
	return Witness[bool]{v: a.v == b.v}
}
