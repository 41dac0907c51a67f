package typesystem

import "fmt"

// Value is the minimal contract the dispatch core needs from runtime values:
// each value knows its concrete, interned type descriptor. The fast-path
// signature check compares these descriptors by pointer identity, which is
// only valid because descriptors are interned.
type Value interface {
	TypeOf() Type
}

// Boxed is a plain runtime value carrying its interned concrete type.
type Boxed struct {
	T Type
	V any
}

func (b *Boxed) TypeOf() Type { return b.T }

func (b *Boxed) String() string { return fmt.Sprintf("%v::%s", b.V, b.T) }

// Box wraps a payload with its concrete type.
func Box(t Type, v any) *Boxed { return &Boxed{T: t, V: v} }

// TypeValue is a type used as a runtime value; its type is Type{T}.
func TypeValue(in *Interner, t Type) *Boxed {
	return &Boxed{T: in.TypeOf(t), V: t}
}
