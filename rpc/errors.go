package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSealed is returned when a router is modified after Seal.
var ErrSealed = errors.New("rpc: router is sealed")

// DuplicateMethodError reports method names that are already registered.
type DuplicateMethodError struct {
	Names []string
}

func (e *DuplicateMethodError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("rpc: method %q already registered", e.Names[0])
	}
	return fmt.Sprintf("rpc: methods %s already registered", strings.Join(quote(e.Names), ", "))
}

func quote(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}
