package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Match confidence levels for medication normalization.
const (
	MatchExact       = "exact"
	MatchApproximate = "approximate"
	MatchNone        = "none"
)

// MedicationLookup is the outcome of an RxNorm search. Confidence is
// MatchNone when the term matched nothing; Failed is set when RxNav could
// not be consulted at all.
type MedicationLookup struct {
	RxCUI      string
	Name       string
	Confidence string
	Failed     bool
}

// RxNormClient queries the NLM RxNav REST API.
type RxNormClient struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewRxNormClient(baseURL string, timeout time.Duration, rps float64, logger zerolog.Logger) *RxNormClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 10
	}
	return &RxNormClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger,
	}
}

// Search normalizes a medication name to an RxNorm concept. It tries an
// exact name match first and falls back to RxNav's approximate matcher.
func (c *RxNormClient) Search(ctx context.Context, term string) (MedicationLookup, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return MedicationLookup{}, ErrEmptyTerm
	}

	rxcui, err := c.exactMatch(ctx, term)
	if err != nil {
		c.logger.Warn().Err(err).Str("term", term).Msg("rxnorm lookup failed")
		return MedicationLookup{Confidence: MatchNone, Failed: true}, nil
	}
	if rxcui != "" {
		return MedicationLookup{
			RxCUI:      rxcui,
			Name:       c.conceptName(ctx, rxcui, term),
			Confidence: MatchExact,
		}, nil
	}

	rxcui, err = c.approximateMatch(ctx, term)
	if err != nil {
		c.logger.Warn().Err(err).Str("term", term).Msg("rxnorm approximate lookup failed")
		return MedicationLookup{Confidence: MatchNone, Failed: true}, nil
	}
	if rxcui == "" {
		return MedicationLookup{Confidence: MatchNone}, nil
	}
	return MedicationLookup{
		RxCUI:      rxcui,
		Name:       c.conceptName(ctx, rxcui, term),
		Confidence: MatchApproximate,
	}, nil
}

type rxcuiResponse struct {
	IDGroup struct {
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

func (c *RxNormClient) exactMatch(ctx context.Context, term string) (string, error) {
	q := url.Values{}
	q.Set("name", term)
	body, err := c.get(ctx, c.baseURL+"/rxcui.json?"+q.Encode())
	if err != nil {
		return "", err
	}
	var resp rxcuiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode rxcui response: %w", err)
	}
	if len(resp.IDGroup.RxNormID) == 0 {
		return "", nil
	}
	return resp.IDGroup.RxNormID[0], nil
}

type approximateResponse struct {
	ApproximateGroup struct {
		Candidate []struct {
			RxCUI string `json:"rxcui"`
		} `json:"candidate"`
	} `json:"approximateGroup"`
}

func (c *RxNormClient) approximateMatch(ctx context.Context, term string) (string, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("maxEntries", "1")
	body, err := c.get(ctx, c.baseURL+"/approximateTerm.json?"+q.Encode())
	if err != nil {
		return "", err
	}
	var resp approximateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode approximateTerm response: %w", err)
	}
	if len(resp.ApproximateGroup.Candidate) == 0 {
		return "", nil
	}
	return resp.ApproximateGroup.Candidate[0].RxCUI, nil
}

type propertyResponse struct {
	PropConceptGroup struct {
		PropConcept []struct {
			PropValue string `json:"propValue"`
		} `json:"propConcept"`
	} `json:"propConceptGroup"`
}

// conceptName resolves the canonical RxNorm name for a concept, falling back
// to the search term if the property call fails.
func (c *RxNormClient) conceptName(ctx context.Context, rxcui, fallback string) string {
	q := url.Values{}
	q.Set("propName", "RxNorm Name")
	body, err := c.get(ctx, c.baseURL+"/rxcui/"+url.PathEscape(rxcui)+"/property.json?"+q.Encode())
	if err != nil {
		return fallback
	}
	var resp propertyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fallback
	}
	if len(resp.PropConceptGroup.PropConcept) == 0 || resp.PropConceptGroup.PropConcept[0].PropValue == "" {
		return fallback
	}
	return resp.PropConceptGroup.PropConcept[0].PropValue
}

func (c *RxNormClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
