package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/types"
)

type uspsStub struct {
	tokenCalls   atomic.Int32
	verifyCalls  atomic.Int32
	tokenCounter atomic.Int32

	// verifyStatus lets a test force a status code; 0 means answer normally
	verifyStatus atomic.Int32

	// rejectFirstToken makes the verify endpoint 401 any request that still
	// carries the first token it issued
	rejectFirstToken bool

	server *httptest.Server
}

func newUSPSStub(t *testing.T, body uspsResponse) *uspsStub {
	t.Helper()
	s := &uspsStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		n := s.tokenCounter.Add(1)
		token := "token-1"
		if n > 1 {
			token = "token-2"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(uspsTokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})
	mux.HandleFunc("/addresses/v3/address", func(w http.ResponseWriter, r *http.Request) {
		s.verifyCalls.Add(1)
		if s.rejectFirstToken && r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status := s.verifyStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func uspsTestConfig(baseURL string) *config.Config {
	return &config.Config{
		USPSBaseURL:           baseURL,
		USPSClientID:          "client-id",
		USPSClientSecret:      "client-secret",
		USPSTimeout:           2 * time.Second,
		AppBreakerMaxFailures: 5,
	}
}

func confirmedResponse(addr types.Address) uspsResponse {
	var resp uspsResponse
	resp.Address.StreetAddress = addr.Street1
	resp.Address.City = addr.City
	resp.Address.State = addr.State
	resp.Address.ZIPCode = addr.PostalCode
	resp.AdditionalInfo.DPVConfirmation = "Y"
	return resp
}

var testAddress = types.Address{
	Name:       "Avery Martin",
	Street1:    "1600 Pennsylvania Ave NW",
	City:       "Washington",
	State:      "DC",
	PostalCode: "20500",
}

func TestUSPSProvider_VerifiedAddress(t *testing.T) {
	stub := newUSPSStub(t, confirmedResponse(testAddress.Normalized()))
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	out, err := p.Verify(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if out.Status != types.StatusVerified {
		t.Errorf("expected status %s, got %s", types.StatusVerified, out.Status)
	}
	if out.Tier != types.TierUSPS {
		t.Errorf("expected tier %s, got %s", types.TierUSPS, out.Tier)
	}
	if out.Corrected != nil {
		t.Errorf("expected no corrections for an exact match, got %+v", out.Corrected)
	}
}

func TestUSPSProvider_CorrectedAddress(t *testing.T) {
	resp := confirmedResponse(testAddress.Normalized())
	resp.Address.StreetAddress = "1600 PENNSYLVANIA AVE NW"
	resp.Address.ZIPCode = "20500"
	resp.Address.ZIPPlus4 = "0005"
	resp.AdditionalInfo.Business = "Y"

	stub := newUSPSStub(t, resp)
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	out, err := p.Verify(context.Background(), types.Address{
		Street1:    "1600 Pennsylvania Avenue Northwest",
		City:       "Washington",
		State:      "DC",
		PostalCode: "20500",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if out.Status != types.StatusVerifiedWithCorrections {
		t.Errorf("expected status %s, got %s", types.StatusVerifiedWithCorrections, out.Status)
	}
	if out.Corrected == nil {
		t.Fatal("expected a corrected address")
	}
	if out.Corrected.PostalCode != "20500-0005" {
		t.Errorf("expected ZIP+4 postal code, got %q", out.Corrected.PostalCode)
	}
	if !out.HasFlag(types.FlagCommercial) {
		t.Errorf("expected commercial flag, got %v", out.Flags)
	}
}

func TestUSPSProvider_TokenReusedWithinValidity(t *testing.T) {
	stub := newUSPSStub(t, confirmedResponse(testAddress.Normalized()))
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	for i := 0; i < 2; i++ {
		if _, err := p.Verify(context.Background(), testAddress); err != nil {
			t.Fatalf("verify %d failed: %v", i, err)
		}
	}

	if got := stub.tokenCalls.Load(); got != 1 {
		t.Errorf("expected exactly one token acquisition, got %d", got)
	}
	if got := stub.verifyCalls.Load(); got != 2 {
		t.Errorf("expected two verify calls, got %d", got)
	}
}

func TestUSPSProvider_ReacquiresTokenOn401(t *testing.T) {
	stub := newUSPSStub(t, confirmedResponse(testAddress.Normalized()))
	stub.rejectFirstToken = true
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	out, err := p.Verify(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("expected transparent token refresh, got: %v", err)
	}
	if out.Status != types.StatusVerified {
		t.Errorf("expected status %s, got %s", types.StatusVerified, out.Status)
	}
	if got := stub.tokenCalls.Load(); got != 2 {
		t.Errorf("expected two token acquisitions, got %d", got)
	}
	if got := stub.verifyCalls.Load(); got != 2 {
		t.Errorf("expected original request retried once, got %d calls", got)
	}
}

func TestUSPSProvider_NoMatchIsUnverifiable(t *testing.T) {
	stub := newUSPSStub(t, uspsResponse{})
	stub.verifyStatus.Store(http.StatusNotFound)
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	out, err := p.Verify(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("a no-match answer must not be an error, got: %v", err)
	}
	if out.Status != types.StatusUnverifiable {
		t.Errorf("expected status %s, got %s", types.StatusUnverifiable, out.Status)
	}
	if out.Message == "" {
		t.Error("expected a message explaining the unverifiable outcome")
	}
}

func TestUSPSProvider_ServerErrorIsTransient(t *testing.T) {
	stub := newUSPSStub(t, uspsResponse{})
	stub.verifyStatus.Store(http.StatusInternalServerError)
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	_, err := p.Verify(context.Background(), testAddress)
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := KindOf(err); kind != KindTransient {
		t.Errorf("expected %s error, got %s (%v)", KindTransient, kind, err)
	}
}

func TestUSPSProvider_InvalidInputSkipsNetwork(t *testing.T) {
	stub := newUSPSStub(t, uspsResponse{})
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	_, err := p.Verify(context.Background(), types.Address{City: "Denver", State: "CO"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := KindOf(err); kind != KindInvalidInput {
		t.Errorf("expected %s error, got %s", KindInvalidInput, kind)
	}
	if got := stub.tokenCalls.Load() + stub.verifyCalls.Load(); got != 0 {
		t.Errorf("expected no network calls for locally rejected input, got %d", got)
	}
}

func TestUSPSProvider_DPVNotConfirmed(t *testing.T) {
	resp := confirmedResponse(testAddress.Normalized())
	resp.AdditionalInfo.DPVConfirmation = "N"
	resp.AdditionalInfo.Vacant = "Y"

	stub := newUSPSStub(t, resp)
	p := NewUSPSProvider(uspsTestConfig(stub.server.URL), nil)

	out, err := p.Verify(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if out.Status != types.StatusUnverifiable {
		t.Errorf("expected status %s, got %s", types.StatusUnverifiable, out.Status)
	}
	if !out.HasFlag(types.FlagVacant) {
		t.Errorf("expected vacant flag, got %v", out.Flags)
	}
}
