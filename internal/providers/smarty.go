package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"resty.dev/v3"

	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/metrics"
	"github.com/parcelkit/address-verifier-go/internal/types"
)

const smartyName = "smarty"

// SmartyProvider is the secondary verification tier. Authentication is a
// static auth-id/auth-token pair on the query string, so there is no token
// lifecycle to manage.
type SmartyProvider struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	metrics *metrics.Metrics

	authID    string
	authToken string
}

func NewSmartyProvider(cfg *config.Config, m *metrics.Metrics) *SmartyProvider {
	return &SmartyProvider{
		client: resty.New().
			SetBaseURL(cfg.SmartyBaseURL).
			SetTimeout(cfg.SmartyTimeout),
		breaker:   newVerifyBreaker(smartyName, cfg.AppBreakerMaxFailures),
		metrics:   m,
		authID:    cfg.SmartyAuthID,
		authToken: cfg.SmartyAuthToken,
	}
}

func (p *SmartyProvider) Name() string {
	return smartyName
}

func (p *SmartyProvider) IsHealthy(_ context.Context) bool {
	return p.breaker.State() != gobreaker.StateOpen
}

func (p *SmartyProvider) Verify(ctx context.Context, addr types.Address) (*types.Outcome, error) {
	addr = addr.Normalized()
	if perr := precheckInput(smartyName, addr); perr != nil {
		return nil, perr
	}

	start := time.Now()
	resp, err := p.breaker.Execute(func() (*resty.Response, error) {
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"auth-id":    p.authID,
				"auth-token": p.authToken,
				"street":     addr.Street1,
				"secondary":  addr.Street2,
				"city":       addr.City,
				"state":      addr.State,
				"zipcode":    addr.PostalCode,
				"candidates": "1",
			}).
			SetResult(&[]smartyCandidate{}).
			Get("/street-address")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, fmt.Errorf("server error: status %d", resp.StatusCode())
		}
		return resp, nil
	})
	p.metrics.ObserveProviderLatency(smartyName, time.Since(start))
	if err != nil {
		return nil, NewProviderError(KindTransient, smartyName, "address lookup failed", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusPaymentRequired:
		return nil, NewProviderError(KindPermanent, smartyName,
			fmt.Sprintf("rejected credentials (status %d)", resp.StatusCode()), nil)
	case !resp.IsSuccess():
		return nil, NewProviderError(KindTransient, smartyName,
			fmt.Sprintf("unexpected status %d", resp.StatusCode()), nil)
	}

	candidates, ok := resp.Result().(*[]smartyCandidate)
	if !ok || candidates == nil {
		return nil, NewProviderError(KindTransient, smartyName, "malformed response body", nil)
	}
	if len(*candidates) == 0 {
		// An empty candidate list is the provider's "no match" answer.
		return &types.Outcome{
			Status:  types.StatusUnverifiable,
			Tier:    types.TierSmarty,
			Message: "no matching address found",
		}, nil
	}

	return normalizeSmarty(addr, (*candidates)[0]), nil
}

type smartyCandidate struct {
	DeliveryLine1 string `json:"delivery_line_1"`
	DeliveryLine2 string `json:"delivery_line_2"`
	LastLine      string `json:"last_line"`
	Components    struct {
		CityName          string `json:"city_name"`
		StateAbbreviation string `json:"state_abbreviation"`
		ZIPCode           string `json:"zipcode"`
		Plus4Code         string `json:"plus4_code"`
	} `json:"components"`
	Analysis struct {
		DPVMatchCode string `json:"dpv_match_code"`
		DPVVacant    string `json:"dpv_vacant"`
	} `json:"analysis"`
	Metadata struct {
		RDI string `json:"rdi"`
	} `json:"metadata"`
}

func normalizeSmarty(in types.Address, c smartyCandidate) *types.Outcome {
	postal := c.Components.ZIPCode
	if c.Components.Plus4Code != "" {
		postal = c.Components.ZIPCode + "-" + c.Components.Plus4Code
	}
	corrected := types.Address{
		Name:       in.Name,
		Company:    in.Company,
		Street1:    c.DeliveryLine1,
		Street2:    c.DeliveryLine2,
		City:       c.Components.CityName,
		State:      c.Components.StateAbbreviation,
		PostalCode: postal,
		Country:    types.DefaultCountry,
	}

	var flags []types.Flag
	if c.Analysis.DPVVacant == "Y" {
		flags = append(flags, types.FlagVacant)
	}
	if strings.EqualFold(c.Metadata.RDI, "Commercial") {
		flags = append(flags, types.FlagCommercial)
	}

	switch c.Analysis.DPVMatchCode {
	case "N":
		return &types.Outcome{
			Status:  types.StatusUnverifiable,
			Tier:    types.TierSmarty,
			Flags:   flags,
			Message: "delivery point could not be confirmed",
		}
	case "D":
		flags = append(flags, types.FlagUnitMissing)
	}

	if addressDiffers(in, corrected) {
		return &types.Outcome{
			Status:    types.StatusVerifiedWithCorrections,
			Corrected: &corrected,
			Tier:      types.TierSmarty,
			Flags:     flags,
		}
	}
	return &types.Outcome{
		Status: types.StatusVerified,
		Tier:   types.TierSmarty,
		Flags:  flags,
	}
}
