// Package exception normalizes failures raised inside an RPC chain into
// error envelopes.
//
// Every error has a Kind. Kinds form a tree rooted at Base, and each kind
// carries its ancestor chain, computed once when the kind is declared.
// Resolution walks that chain, most specific first, against a Table of
// handlers; Base is always present in a Table so resolution never fails.
package exception

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Kind classifies errors for handler resolution.
type Kind struct {
	name  string
	chain []*Kind
}

// Base is the universal root kind. Errors that declare no kind resolve to it.
var Base = newRoot("Exception")

// Built-in kinds.
var (
	BaseRPCError = NewKind("BaseRPCError", Base)
	RPCError     = NewKind("RPCError", BaseRPCError)
	ValueError   = NewKind("ValueError", Base)
	TypeError    = NewKind("TypeError", Base)
	KeyError     = NewKind("KeyError", Base)
	RuntimeError = NewKind("RuntimeError", Base)
	Panic        = NewKind("Panic", Base)
)

func newRoot(name string) *Kind {
	k := &Kind{name: name}
	k.chain = []*Kind{k}
	return k
}

// NewKind declares a kind under parent. A nil parent means Base.
func NewKind(name string, parent *Kind) *Kind {
	if parent == nil {
		parent = Base
	}
	k := &Kind{name: name}
	k.chain = make([]*Kind, 0, len(parent.chain)+1)
	k.chain = append(k.chain, k)
	k.chain = append(k.chain, parent.chain...)
	return k
}

func (k *Kind) Name() string { return k.name }

func (k *Kind) String() string { return k.name }

// Chain returns k followed by its ancestors, ending at Base.
func (k *Kind) Chain() []*Kind { return slices.Clone(k.chain) }

// Is reports whether k is ancestor or k itself.
func (k *Kind) Is(ancestor *Kind) bool { return slices.Contains(k.chain, ancestor) }

// Kinded is implemented by errors that declare their kind.
type Kinded interface {
	error
	Kind() *Kind
}

// KindOf returns the kind of the first Kinded error in err's tree, or Base.
func KindOf(err error) *Kind {
	var k Kinded
	if errors.As(err, &k) && k.Kind() != nil {
		return k.Kind()
	}
	return Base
}

// TypeName names err for the outside world: the kind name for kinded
// errors, otherwise the Go type name without package or pointer.
func TypeName(err error) string {
	var k Kinded
	if errors.As(err, &k) && k.Kind() != nil {
		return k.Kind().Name()
	}
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ID is the upper-cased TypeName, used as the error id of internal errors.
func ID(err error) string {
	return strings.ToUpper(TypeName(err))
}
