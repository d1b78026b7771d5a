// Package terminology wraps the public NLM code lookup APIs (Clinical
// Tables for ICD-10-CM, RxNav for RxNorm). Upstream failures are reported
// through the Failed flag rather than errors: an unreachable lookup service
// degrades code assignment, it never fails the caller's request.
package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrEmptyTerm is returned when a caller asks to look up a blank term.
// This is a caller bug, not an upstream failure.
var ErrEmptyTerm = errors.New("terminology: empty search term")

const defaultMaxCandidates = 10

// DiagnosisCandidate is one ICD-10-CM code returned for a search term.
type DiagnosisCandidate struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// DiagnosisLookup is the outcome of an ICD-10-CM search. Failed is set when
// the upstream service could not be consulted; zero candidates with
// Failed=false means the term genuinely matched nothing.
type DiagnosisLookup struct {
	Candidates []DiagnosisCandidate
	Failed     bool
}

// ICD10Client queries the NLM Clinical Tables ICD-10-CM search API.
type ICD10Client struct {
	baseURL string
	maxList int
	hc      *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewICD10Client(baseURL string, timeout time.Duration, rps float64, logger zerolog.Logger) *ICD10Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 10
	}
	return &ICD10Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		maxList: defaultMaxCandidates,
		hc:      &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger,
	}
}

// Search looks up ICD-10-CM candidates for a diagnosis term. All candidates
// the API returns (up to maxList) are passed through so the caller can
// disambiguate.
func (c *ICD10Client) Search(ctx context.Context, term string) (DiagnosisLookup, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return DiagnosisLookup{}, ErrEmptyTerm
	}

	q := url.Values{}
	q.Set("sf", "code,name")
	q.Set("terms", term)
	q.Set("maxList", fmt.Sprintf("%d", c.maxList))

	body, err := c.get(ctx, c.baseURL+"?"+q.Encode())
	if err != nil {
		c.logger.Warn().Err(err).Str("term", term).Msg("icd10 lookup failed")
		return DiagnosisLookup{Failed: true}, nil
	}

	candidates, err := parseICD10Response(body)
	if err != nil {
		c.logger.Warn().Err(err).Str("term", term).Msg("icd10 response malformed")
		return DiagnosisLookup{Failed: true}, nil
	}
	return DiagnosisLookup{Candidates: candidates}, nil
}

// parseICD10Response decodes the positional array the Clinical Tables API
// returns: [total, [codes], null, [[code, name], ...]].
func parseICD10Response(body []byte) ([]DiagnosisCandidate, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response array: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("response array has %d elements, want 4", len(raw))
	}

	var pairs [][]string
	if err := json.Unmarshal(raw[3], &pairs); err != nil {
		return nil, fmt.Errorf("decode display field: %w", err)
	}

	candidates := make([]DiagnosisCandidate, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 || p[0] == "" {
			continue
		}
		candidates = append(candidates, DiagnosisCandidate{Code: p[0], Description: p[1]})
	}
	return candidates, nil
}

func (c *ICD10Client) get(ctx context.Context, rawURL string) ([]byte, error) {
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
