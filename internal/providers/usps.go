package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"resty.dev/v3"

	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/metrics"
	"github.com/parcelkit/address-verifier-go/internal/types"
)

const uspsName = "usps"

// tokenSkew renews tokens slightly before their advertised expiry so a
// request never goes out with a token about to lapse mid-flight.
const tokenSkew = 30 * time.Second

// USPSProvider is the primary verification tier. It authenticates with a
// client-credentials token that is acquired lazily, cached until expiry and
// refreshed through a singleflight group so concurrent calls coordinate a
// single refresh instead of re-authenticating in a herd.
type USPSProvider struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	metrics *metrics.Metrics

	clientID     string
	clientSecret string

	group singleflight.Group

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

func NewUSPSProvider(cfg *config.Config, m *metrics.Metrics) *USPSProvider {
	return &USPSProvider{
		client: resty.New().
			SetBaseURL(cfg.USPSBaseURL).
			SetTimeout(cfg.USPSTimeout),
		breaker:      newVerifyBreaker(uspsName, cfg.AppBreakerMaxFailures),
		metrics:      m,
		clientID:     cfg.USPSClientID,
		clientSecret: cfg.USPSClientSecret,
	}
}

func (p *USPSProvider) Name() string {
	return uspsName
}

// IsHealthy reports the circuit breaker state; the chain skips the tier
// while the breaker is open.
func (p *USPSProvider) IsHealthy(_ context.Context) bool {
	return p.breaker.State() != gobreaker.StateOpen
}

func (p *USPSProvider) Verify(ctx context.Context, addr types.Address) (*types.Outcome, error) {
	addr = addr.Normalized()
	if perr := precheckInput(uspsName, addr); perr != nil {
		return nil, perr
	}

	token, err := p.bearerToken(ctx)
	if err != nil {
		return nil, NewProviderError(KindPermanent, uspsName, "token acquisition failed", err)
	}

	start := time.Now()
	resp, err := p.doVerify(ctx, token, addr)
	p.metrics.ObserveProviderLatency(uspsName, time.Since(start))
	if err != nil {
		return nil, NewProviderError(KindTransient, uspsName, "address lookup failed", err)
	}

	// One transparent re-attempt with a fresh token on a 401-class answer.
	if resp.StatusCode() == http.StatusUnauthorized {
		p.invalidateToken(token)
		token, err = p.bearerToken(ctx)
		if err != nil {
			return nil, NewProviderError(KindPermanent, uspsName, "token re-acquisition failed", err)
		}
		resp, err = p.doVerify(ctx, token, addr)
		if err != nil {
			return nil, NewProviderError(KindTransient, uspsName, "address lookup failed after token refresh", err)
		}
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		// No match is a valid answer, not a transport failure.
		return &types.Outcome{
			Status:  types.StatusUnverifiable,
			Tier:    types.TierUSPS,
			Message: "no matching address found",
		}, nil
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, NewProviderError(KindPermanent, uspsName,
			fmt.Sprintf("rejected credentials (status %d)", resp.StatusCode()), nil)
	case !resp.IsSuccess():
		return nil, NewProviderError(KindTransient, uspsName,
			fmt.Sprintf("unexpected status %d", resp.StatusCode()), nil)
	}

	parsed, ok := resp.Result().(*uspsResponse)
	if !ok || parsed == nil || parsed.Address.StreetAddress == "" {
		return nil, NewProviderError(KindTransient, uspsName, "malformed response body", nil)
	}

	return normalizeUSPS(addr, parsed), nil
}

func (p *USPSProvider) doVerify(ctx context.Context, token string, addr types.Address) (*resty.Response, error) {
	return p.breaker.Execute(func() (*resty.Response, error) {
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(map[string]string{
				"streetAddress":    addr.Street1,
				"secondaryAddress": addr.Street2,
				"city":             addr.City,
				"state":            addr.State,
				"ZIPCode":          zip5(addr.PostalCode),
			}).
			SetResult(&uspsResponse{}).
			Get("/addresses/v3/address")
		if err != nil {
			return nil, err
		}
		// 5xx answers trip the breaker like transport errors do.
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, fmt.Errorf("server error: status %d", resp.StatusCode())
		}
		return resp, nil
	})
}

// bearerToken returns a cached token while it is valid and otherwise
// coordinates one refresh for all concurrent callers.
func (p *USPSProvider) bearerToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != "" && time.Now().Before(p.tokenExpiry.Add(-tokenSkew)) {
		token := p.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do("token", func() (any, error) {
		// A concurrent caller may have refreshed while we queued.
		p.mu.RLock()
		if p.token != "" && time.Now().Before(p.tokenExpiry.Add(-tokenSkew)) {
			token := p.token
			p.mu.RUnlock()
			return token, nil
		}
		p.mu.RUnlock()

		return p.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type uspsTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *USPSProvider) fetchToken(ctx context.Context) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     p.clientID,
			"client_secret": p.clientSecret,
		}).
		SetResult(&uspsTokenResponse{}).
		Post("/oauth2/v3/token")
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	parsed, ok := resp.Result().(*uspsTokenResponse)
	if !ok || parsed.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	expiry := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)

	// Token and expiry move together under one lock so a cancelled caller
	// can never observe a half-updated cache.
	p.mu.Lock()
	p.token = parsed.AccessToken
	p.tokenExpiry = expiry
	p.mu.Unlock()

	p.metrics.IncTokenRefresh(uspsName)
	slog.DebugContext(ctx, "acquired provider token", "provider", uspsName, "expires_in", parsed.ExpiresIn)

	return parsed.AccessToken, nil
}

// invalidateToken drops the cached token, but only if it is still the one
// that was rejected; a newer token installed meanwhile is kept.
func (p *USPSProvider) invalidateToken(rejected string) {
	p.mu.Lock()
	if p.token == rejected {
		p.token = ""
		p.tokenExpiry = time.Time{}
	}
	p.mu.Unlock()
}

type uspsResponse struct {
	Address struct {
		StreetAddress    string `json:"streetAddress"`
		SecondaryAddress string `json:"secondaryAddress"`
		City             string `json:"city"`
		State            string `json:"state"`
		ZIPCode          string `json:"ZIPCode"`
		ZIPPlus4         string `json:"ZIPPlus4"`
	} `json:"address"`
	AdditionalInfo struct {
		DPVConfirmation string `json:"DPVConfirmation"`
		Business        string `json:"business"`
		Vacant          string `json:"vacant"`
	} `json:"additionalInfo"`
}

// normalizeUSPS maps the provider's native response onto the canonical
// outcome shape. Signals without a place in the shared flag vocabulary are
// dropped.
func normalizeUSPS(in types.Address, resp *uspsResponse) *types.Outcome {
	postal := resp.Address.ZIPCode
	if resp.Address.ZIPPlus4 != "" {
		postal = resp.Address.ZIPCode + "-" + resp.Address.ZIPPlus4
	}
	corrected := types.Address{
		Name:       in.Name,
		Company:    in.Company,
		Street1:    resp.Address.StreetAddress,
		Street2:    resp.Address.SecondaryAddress,
		City:       resp.Address.City,
		State:      resp.Address.State,
		PostalCode: postal,
		Country:    types.DefaultCountry,
	}

	var flags []types.Flag
	if resp.AdditionalInfo.Vacant == "Y" {
		flags = append(flags, types.FlagVacant)
	}
	if resp.AdditionalInfo.Business == "Y" {
		flags = append(flags, types.FlagCommercial)
	}

	switch resp.AdditionalInfo.DPVConfirmation {
	case "N":
		return &types.Outcome{
			Status:  types.StatusUnverifiable,
			Tier:    types.TierUSPS,
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
			Tier:      types.TierUSPS,
			Flags:     flags,
		}
	}
	return &types.Outcome{
		Status: types.StatusVerified,
		Tier:   types.TierUSPS,
		Flags:  flags,
	}
}

// addressDiffers compares the fields providers standardize; the comparison
// ignores case and the ZIP+4 extension so a bare match doesn't count as a
// correction.
func addressDiffers(in, out types.Address) bool {
	return !strings.EqualFold(in.Street1, out.Street1) ||
		!strings.EqualFold(in.City, out.City) ||
		!strings.EqualFold(in.State, out.State) ||
		zip5(in.PostalCode) != zip5(out.PostalCode)
}

func zip5(postal string) string {
	if i := strings.IndexByte(postal, '-'); i >= 0 {
		return postal[:i]
	}
	return postal
}
