package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/httpx"
)

const (
	DefaultLiteBase = "https://lite-api.jup.ag/swap/v1"
	DefaultProBase  = "https://api.jup.ag/swap/v1"

	// MaxSlippageBps is 100%.
	MaxSlippageBps = 10000
)

var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE": true,
	"NO_ROUTES_FOUND":          true,
	"TOKEN_NOT_TRADABLE":       true,
}

// QuoteRequest describes an exact-in quote.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Quote is an aggregator quote. Raw keeps the provider response verbatim so it
// can be handed back to the swap endpoint unchanged.
type Quote struct {
	InputMint            string
	OutputMint           string
	InAmount             uint64
	OutAmount            uint64
	OtherAmountThreshold uint64
	SlippageBps          int
	PriceImpactPct       float64
	Route                string
	Raw                  json.RawMessage
}

// Client talks to the Jupiter swap API: quotes and unsigned swap transactions.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

// New builds a Jupiter client. An empty baseURL selects the lite endpoint, or
// the pro endpoint when an API key is configured.
func New(httpClient *httpx.Client, baseURL, apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	if baseURL == "" {
		baseURL = DefaultLiteBase
		if apiKey != "" {
			baseURL = DefaultProBase
		}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type routeHop struct {
	SwapInfo struct {
		Label string `json:"label"`
	} `json:"swapInfo"`
}

type quoteResponse struct {
	InputMint            string     `json:"inputMint"`
	OutputMint           string     `json:"outputMint"`
	InAmount             string     `json:"inAmount"`
	OutAmount            string     `json:"outAmount"`
	OtherAmountThreshold string     `json:"otherAmountThreshold"`
	SlippageBps          int        `json:"slippageBps"`
	PriceImpactPct       string     `json:"priceImpactPct"`
	RoutePlan            []routeHop `json:"routePlan"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// GetQuote requests an exact-in quote. When the aggregator reports that no
// route exists it returns ok=false with a nil error.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (Quote, bool, error) {
	if req.Amount == 0 {
		return Quote{}, false, apperr.Validation("quote amount must be positive")
	}
	if req.SlippageBps <= 0 || req.SlippageBps > MaxSlippageBps {
		return Quote{}, false, apperr.Validation("slippage must be between 1 and 10000 bps")
	}
	if req.InputMint == "" || req.OutputMint == "" {
		return Quote{}, false, apperr.Validation("input and output mints are required")
	}

	vals := url.Values{}
	vals.Set("inputMint", req.InputMint)
	vals.Set("outputMint", req.OutputMint)
	vals.Set("amount", strconv.FormatUint(req.Amount, 10))
	vals.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	vals.Set("onlyDirectRoutes", "false")
	vals.Set("asLegacyTransaction", "false")

	endpoint := fmt.Sprintf("%s/quote?%s", c.baseURL, vals.Encode())
	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, endpoint, nil, c.headers(), &raw); err != nil {
		if isNoRoute(err) {
			return Quote{}, false, nil
		}
		return Quote{}, false, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Quote{}, false, apperr.Wrap(apperr.CodeRPCUnavailable, "decode jupiter quote", err)
	}
	if len(resp.RoutePlan) == 0 {
		return Quote{}, false, nil
	}

	inAmount, err := parseUnits("inAmount", resp.InAmount)
	if err != nil {
		return Quote{}, false, err
	}
	outAmount, err := parseUnits("outAmount", resp.OutAmount)
	if err != nil {
		return Quote{}, false, err
	}
	threshold, _ := strconv.ParseUint(strings.TrimSpace(resp.OtherAmountThreshold), 10, 64)

	return Quote{
		InputMint:            resp.InputMint,
		OutputMint:           resp.OutputMint,
		InAmount:             inAmount,
		OutAmount:            outAmount,
		OtherAmountThreshold: threshold,
		SlippageBps:          resp.SlippageBps,
		PriceImpactPct:       parsePriceImpactPct(resp.PriceImpactPct),
		Route:                routeFromPlan(resp.RoutePlan),
		Raw:                  raw,
	}, true, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// GetSwapTransaction asks the aggregator to build the unsigned swap
// transaction for quote. The result is the base64 wire transaction.
func (c *Client) GetSwapTransaction(ctx context.Context, quote Quote, userPublicKey string) (string, error) {
	if len(quote.Raw) == 0 {
		return "", apperr.Validation("quote has no provider payload")
	}
	if userPublicKey == "" {
		return "", apperr.Validation("user public key is required")
	}

	body, err := json.Marshal(swapRequest{
		QuoteResponse:             quote.Raw,
		UserPublicKey:             userPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "encode jupiter swap request", err)
	}

	var resp swapResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/swap", body, c.headers(), &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.SwapTransaction) == "" {
		return "", apperr.New(apperr.CodeRPCUnavailable, "jupiter swap response missing transaction")
	}
	return resp.SwapTransaction, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}

func isNoRoute(err error) bool {
	var statusErr *httpx.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.Status != http.StatusBadRequest && statusErr.Status != http.StatusNotFound {
		return false
	}
	var body errorResponse
	if json.Unmarshal(statusErr.Body, &body) != nil {
		return false
	}
	if noRouteCodes[body.ErrorCode] {
		return true
	}
	return strings.Contains(strings.ToLower(body.Error), "could not find any route")
}

func parseUnits(field, v string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeRPCUnavailable, "jupiter quote has invalid "+field, err)
	}
	return n, nil
}

func parsePriceImpactPct(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	if f < 0 {
		return 0
	}
	return f
}

func routeFromPlan(plan []routeHop) string {
	if len(plan) == 0 {
		return "jupiter"
	}

	parts := make([]string, 0, len(plan))
	for _, hop := range plan {
		label := strings.TrimSpace(hop.SwapInfo.Label)
		if label == "" {
			continue
		}
		if len(parts) == 0 || parts[len(parts)-1] != label {
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		return "jupiter"
	}
	return strings.Join(parts, " > ")
}
