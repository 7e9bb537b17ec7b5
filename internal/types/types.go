package types

import "strings"

// DefaultCountry is assumed whenever an address arrives without one.
const DefaultCountry = "US"

// Slot identifies which address on a shipment record is being verified.
type Slot string

const (
	SlotTo   Slot = "to"
	SlotFrom Slot = "from"
	SlotBoth Slot = "both"
)

func (s Slot) Valid() bool {
	return s == SlotTo || s == SlotFrom || s == SlotBoth
}

type Address struct {
	Name       string `json:"name,omitempty"`
	Company    string `json:"company,omitempty"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

// Normalized returns a copy with whitespace trimmed, the state upcased and
// the country defaulted. Verification always operates on the normalized form.
func (a Address) Normalized() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Company = strings.TrimSpace(a.Company)
	a.Street1 = strings.TrimSpace(a.Street1)
	a.Street2 = strings.TrimSpace(a.Street2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = DefaultCountry
	}
	return a
}

func (a Address) Empty() bool {
	return a.Street1 == "" && a.Street2 == "" && a.City == "" &&
		a.State == "" && a.PostalCode == ""
}

// Status is the terminal classification of a verification attempt. Every
// attempt yields exactly one; there is no pending state.
type Status string

const (
	StatusVerified                Status = "verified"
	StatusVerifiedWithCorrections Status = "verified_with_corrections"
	StatusUnverifiable            Status = "unverifiable"
	StatusInvalid                 Status = "invalid"
)

// Tier names the stage of the fallback chain that produced an outcome.
type Tier string

const (
	TierUSPS   Tier = "usps"
	TierSmarty Tier = "smarty"
	TierStatic Tier = "static"
)

// Flag is a qualitative warning attached to an outcome. Provider-specific
// signals that don't map onto this vocabulary are dropped, not invented.
type Flag string

const (
	FlagVacant              Flag = "vacant"
	FlagCommercial          Flag = "commercial"
	FlagUnitMissing         Flag = "unit-missing"
	FlagStateZipMismatch    Flag = "state-zip-mismatch"
	FlagMissingStreetNumber Flag = "missing-street-number"
	FlagCityHasDigits       Flag = "city-has-digits"
	FlagPOBox               Flag = "po-box"
)

// Outcome is the canonical verification result shared across all tiers.
// It is immutable once constructed; the chain replaces outcomes, it never
// edits one produced by an earlier tier.
type Outcome struct {
	Status    Status   `json:"status"`
	Corrected *Address `json:"correctedAddress,omitempty"`
	Tier      Tier     `json:"provider"`
	Flags     []Flag   `json:"flags,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (o *Outcome) HasFlag(f Flag) bool {
	for _, x := range o.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// BatchRecord is one unit of a bulk request. Slot defaults to the request
// level slot when empty.
type BatchRecord struct {
	RecordID string   `json:"recordId"`
	Slot     Slot     `json:"slot,omitempty"`
	To       *Address `json:"to,omitempty"`
	From     *Address `json:"from,omitempty"`
}

// BatchRequest is constructed per call, consumed once and discarded.
type BatchRequest struct {
	Slot    Slot          `json:"slot,omitempty"`
	Records []BatchRecord `json:"records"`
}

// RecordResult carries the outcome for each slot that was requested.
// Skipped marks records that were never attempted because the batch
// deadline passed first.
type RecordResult struct {
	RecordID string   `json:"recordId"`
	To       *Outcome `json:"to,omitempty"`
	From     *Outcome `json:"from,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
}

// BatchSummary counts records, not slots. Total always equals the number of
// input records and the remaining fields sum to it.
type BatchSummary struct {
	Total        int `json:"total"`
	Verified     int `json:"verified"`
	Corrected    int `json:"corrected"`
	Unverifiable int `json:"unverifiable"`
	Invalid      int `json:"invalid"`
	Skipped      int `json:"skipped"`
}

type BatchResult struct {
	BatchID string                  `json:"batchId"`
	Results map[string]RecordResult `json:"results"`
	Summary BatchSummary            `json:"summary"`
}
