package verifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/parcelkit/address-verifier-go/internal/types"
)

// validStates holds the recognized US state and territory abbreviations.
var validStates = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {}, "FL": {}, "GA": {},
	"HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {}, "KY": {}, "LA": {}, "ME": {}, "MD": {},
	"MA": {}, "MI": {}, "MN": {}, "MS": {}, "MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {},
	"NM": {}, "NY": {}, "NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {},
	"SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {}, "WI": {}, "WY": {},
	"DC": {}, "PR": {}, "VI": {}, "GU": {}, "AS": {}, "MP": {},
}

// zipStateRange maps a half-open range of 3-digit ZIP prefixes to the states
// they are assigned to. The table is deliberately coarse: it catches gross
// mismatches, not boundary oddities.
type zipStateRange struct {
	lo, hi int // prefixes in [lo, hi)
	states []string
}

var zipStateRanges = []zipStateRange{
	{100, 150, []string{"NY", "NJ", "CT", "PA"}},
	{150, 200, []string{"PA", "DE", "MD", "DC"}},
	{200, 270, []string{"VA", "WV", "DC", "MD"}},
	{270, 290, []string{"NC"}},
	{290, 300, []string{"SC"}},
	{300, 320, []string{"GA"}},
	{320, 350, []string{"FL"}},
	{350, 370, []string{"AL"}},
	{370, 386, []string{"TN"}},
	{386, 398, []string{"MS"}},
	{400, 428, []string{"KY"}},
	{430, 459, []string{"OH"}},
	{460, 480, []string{"IN"}},
	{480, 500, []string{"MI"}},
	{500, 529, []string{"IA"}},
	{530, 550, []string{"WI"}},
	{550, 568, []string{"MN"}},
	{570, 578, []string{"SD"}},
	{580, 589, []string{"ND"}},
	{590, 600, []string{"MT"}},
	{600, 630, []string{"IL"}},
	{630, 659, []string{"MO"}},
	{660, 680, []string{"KS"}},
	{680, 694, []string{"NE"}},
	{700, 715, []string{"LA"}},
	{716, 730, []string{"AR"}},
	{730, 750, []string{"OK"}},
	{750, 800, []string{"TX"}},
	{800, 816, []string{"CO"}},
	{820, 832, []string{"WY"}},
	{832, 839, []string{"ID"}},
	{840, 848, []string{"UT"}},
	{850, 866, []string{"AZ"}},
	{870, 885, []string{"NM"}},
	{889, 899, []string{"NV"}},
	{900, 935, []string{"CA"}},
	{935, 966, []string{"CA", "HI"}},
	{967, 969, []string{"HI"}},
	{970, 980, []string{"OR"}},
	{980, 995, []string{"WA"}},
	{995, 1000, []string{"AK"}},
}

var (
	zipPattern          = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	streetNumberPattern = regexp.MustCompile(`^\d+\s`)
	poBoxPattern        = regexp.MustCompile(`(?i)^P\.?O\.?\s*BOX`)
)

// StaticValidator is the chain's unconditional bottom tier: a pure rule
// engine with no I/O that classifies every address it is handed. It never
// returns an error.
type StaticValidator struct{}

func NewStaticValidator() *StaticValidator {
	return &StaticValidator{}
}

// Verify applies the format rules in order. Missing required fields, an
// unknown state code or a malformed ZIP yield StatusInvalid; an address that
// passes the format rules but accumulates warning flags is at best
// unverifiable, since correctness cannot be confirmed without deliverability
// data; a clean pass is StatusVerified.
func (v *StaticValidator) Verify(addr types.Address) *types.Outcome {
	addr = addr.Normalized()

	if missing := missingFields(addr); len(missing) > 0 {
		return &types.Outcome{
			Status:  types.StatusInvalid,
			Tier:    types.TierStatic,
			Message: "missing required field(s): " + strings.Join(missing, ", "),
		}
	}

	if _, ok := validStates[addr.State]; !ok {
		return &types.Outcome{
			Status:  types.StatusInvalid,
			Tier:    types.TierStatic,
			Message: fmt.Sprintf("%q is not a recognized US state abbreviation", addr.State),
		}
	}

	if !zipPattern.MatchString(addr.PostalCode) {
		return &types.Outcome{
			Status:  types.StatusInvalid,
			Tier:    types.TierStatic,
			Message: fmt.Sprintf("ZIP code %q is not in a valid format (expected 5 digits or 5+4)", addr.PostalCode),
		}
	}

	var flags []types.Flag
	var notes []string

	if expected := statesForZip(addr.PostalCode); len(expected) > 0 && !contains(expected, addr.State) {
		flags = append(flags, types.FlagStateZipMismatch)
		notes = append(notes, fmt.Sprintf("ZIP code %s is assigned to %s, not %s",
			addr.PostalCode, strings.Join(expected, "/"), addr.State))
	}

	if poBoxPattern.MatchString(addr.Street1) {
		flags = append(flags, types.FlagPOBox)
		notes = append(notes, "street address is a PO box")
	} else if !streetNumberPattern.MatchString(addr.Street1) {
		flags = append(flags, types.FlagMissingStreetNumber)
		notes = append(notes, "street address may be missing a street number")
	}

	if strings.ContainsAny(addr.City, "0123456789") {
		flags = append(flags, types.FlagCityHasDigits)
		notes = append(notes, "city name contains digits")
	}

	if len(flags) > 0 {
		return &types.Outcome{
			Status:  types.StatusUnverifiable,
			Tier:    types.TierStatic,
			Flags:   flags,
			Message: strings.Join(notes, "; "),
		}
	}

	return &types.Outcome{
		Status: types.StatusVerified,
		Tier:   types.TierStatic,
	}
}

func missingFields(addr types.Address) []string {
	var missing []string
	if addr.Street1 == "" {
		missing = append(missing, "street")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if addr.State == "" {
		missing = append(missing, "state")
	}
	if addr.PostalCode == "" {
		missing = append(missing, "postal code")
	}
	return missing
}

func statesForZip(postal string) []string {
	if len(postal) < 3 {
		return nil
	}
	prefix, err := strconv.Atoi(postal[:3])
	if err != nil {
		return nil
	}
	for _, r := range zipStateRanges {
		if prefix >= r.lo && prefix < r.hi {
			return r.states
		}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}
