package providers

import (
	"context"
	"strings"

	"github.com/parcelkit/address-verifier-go/internal/types"
)

// Provider is the capability every verification tier's remote adapter
// implements. A "no match" answer from the remote service is not an error:
// it comes back as an Outcome with StatusUnverifiable. Errors are always
// *ProviderError and mean the tier produced nothing usable.
//
// Adapters normalize their native response shape before returning, so
// nothing provider-specific leaks past this boundary.
type Provider interface {
	Name() string
	Verify(ctx context.Context, addr types.Address) (*types.Outcome, error)
}

// precheckInput rejects addresses no provider would match before a remote
// call is spent on them. A provider needs a street plus either a postal code
// or a city/state pair to have any chance of a hit.
func precheckInput(provider string, addr types.Address) *ProviderError {
	var missing []string
	if addr.Street1 == "" {
		missing = append(missing, "street")
	}
	if addr.PostalCode == "" && (addr.City == "" || addr.State == "") {
		missing = append(missing, "postal code or city/state")
	}
	if len(missing) == 0 {
		return nil
	}
	return NewProviderError(KindInvalidInput, provider,
		"address missing "+strings.Join(missing, ", "), nil)
}
