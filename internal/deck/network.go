package deck

import (
	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/routing"
)

// Network is the reserved fifth deck (spec.md §4.3: "prefix 4 is reserved
// for network I/O; this module does not implement it"). It still satisfies
// the Deck interface so the Guide's routing table can dispatch to it
// uniformly and report a typed NotImplemented error rather than panicking
// on an unrecognized prefix.
type Network struct{ base }

// NewNetwork builds the reserved Network deck.
func NewNetwork() *Network {
	return &Network{base: newBase("network", PrefixNetwork, 0)}
}

func (d *Network) Process(entry *routing.Entry) error {
	return fail(entry, &d.base, kerr.NotImplemented)
}
