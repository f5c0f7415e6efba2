// Package ident maps names to the 64-bit identifiers used on the wire.
//
// Functions, methods, types and object instances all share one identifier space. Client and
// server compute identifiers independently, so the hash below is part of the protocol: changing
// it breaks every deployed peer.
package ident

import (
	"fmt"
	"hash/fnv"
)

// ID is the wire-level key for a function, method, type or object.
type ID uint64

// Size is the wire width of an ID.
const Size = 8

// Of returns the FNV-1a 64-bit hash of name. Distinct names that collide share a registry slot.
func Of(name string) ID {
	h := fnv.New64a()
	h.Write([]byte(name))
	return ID(h.Sum64())
}

func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}
