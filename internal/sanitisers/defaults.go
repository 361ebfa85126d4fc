package sanitisers

import (
	"github.com/custodia-labs/subanon/internal/sanitisers/archive"
	"github.com/custodia-labs/subanon/internal/sanitisers/officexml"
	"github.com/custodia-labs/subanon/internal/sanitisers/pdf"
	"github.com/custodia-labs/subanon/internal/sanitisers/plaintext"
)

// RegisterDefaults registers all built-in sanitisers with the registry.
// The archive sanitiser dispatches inner entries back through r.
func RegisterDefaults(r *Registry) {
	r.Register(officexml.New())
	r.Register(pdf.New())
	r.Register(archive.New(r))
	r.Register(plaintext.New())
}

// NewDefaultRegistry returns a registry with every built-in sanitiser.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}
