package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/phenovariant-server/internal/domain"
)

// VariantValidatorConfig represents configuration for the VariantValidator
// REST client
type VariantValidatorConfig struct {
	BaseURL           string               `json:"base_url"`
	GenomeBuild       string               `json:"genome_build"`
	SelectTranscripts string               `json:"select_transcripts"`
	Timeout           time.Duration        `json:"timeout"`
	RateLimit         int                  `json:"rate_limit"` // requests per second
	CacheTTL          time.Duration        `json:"cache_ttl"`
	Breaker           CircuitBreakerConfig `json:"breaker"`
}

// VariantValidatorClient checks descriptors against the VariantValidator
// service (https://rest.variantvalidator.org). Transport failures and an
// open breaker surface as *domain.ValidationUnavailableError; invalid
// descriptors as *domain.ValidationRejectedError.
type VariantValidatorClient struct {
	baseURL           string
	build             string
	selectTranscripts string
	cacheTTL          time.Duration
	httpClient        *http.Client
	rateLimit         *rate.Limiter
	breaker           *gobreaker.CircuitBreaker
	cache             ResultCache
	logger            *logrus.Logger
}

// variantEntry is one descriptor entry of a variantvalidator response
type variantEntry struct {
	GeneSymbol            string   `json:"gene_symbol"`
	HGVSTranscriptVariant string   `json:"hgvs_transcript_variant"`
	ValidationWarnings    []string `json:"validation_warnings"`
}

// geneTranscripts is one element of a gene2transcripts_v2 response
type geneTranscripts struct {
	CurrentSymbol   string `json:"current_symbol"`
	RequestedSymbol string `json:"requested_symbol"`
	Error           string `json:"error"`
	Transcripts     []struct {
		Reference string `json:"reference"`
	} `json:"transcripts"`
}

// NewVariantValidatorClient creates a new client. cache may be nil.
func NewVariantValidatorClient(config VariantValidatorConfig, cache ResultCache, logger *logrus.Logger) *VariantValidatorClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://rest.variantvalidator.org"
	}
	if config.GenomeBuild == "" {
		config.GenomeBuild = "GRCh38"
	}
	if config.SelectTranscripts == "" {
		config.SelectTranscripts = "mane_select"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // public service asks for light use
	}

	return &VariantValidatorClient{
		baseURL:           strings.TrimRight(config.BaseURL, "/"),
		build:             config.GenomeBuild,
		selectTranscripts: config.SelectTranscripts,
		cacheTTL:          config.CacheTTL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:   newCircuitBreaker("VariantValidator", config.Breaker, logger),
		cache:     cache,
		logger:    logger,
	}
}

// Validate checks one descriptor. Qualified descriptors such as
// NM_007294.4:c.68_69del are expected; the caller joins transcript and
// local descriptor.
func (c *VariantValidatorClient) Validate(ctx context.Context, descriptor string) (*domain.ValidationOutcome, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, &domain.ValidationRejectedError{Descriptor: descriptor, Messages: []string{"descriptor is empty"}}
	}

	key := cacheKey("validate", c.build, c.selectTranscripts, descriptor)
	var outcome domain.ValidationOutcome
	if c.cachedJSON(ctx, key, &outcome) {
		return outcomeResult(descriptor, &outcome)
	}

	path := fmt.Sprintf("/VariantValidator/variantvalidator/%s/%s/%s",
		url.PathEscape(c.build), url.PathEscape(descriptor), url.PathEscape(c.selectTranscripts))
	body, err := c.call(ctx, descriptor, path)
	if err != nil {
		var rejected *domain.ValidationRejectedError
		if errors.As(err, &rejected) {
			c.storeJSON(ctx, key, &domain.ValidationOutcome{Valid: false, Errors: rejected.Messages})
		}
		return nil, err
	}

	parsed, err := parseVariantResponse(body)
	if err != nil {
		return nil, &domain.ValidationUnavailableError{Descriptor: descriptor, Cause: err}
	}
	c.storeJSON(ctx, key, parsed)
	return outcomeResult(descriptor, parsed)
}

// ResolveTranscripts lists the RefSeq transcripts the service selects for
// a gene symbol.
func (c *VariantValidatorClient) ResolveTranscripts(ctx context.Context, gene string) ([]string, error) {
	gene = strings.TrimSpace(strings.ToUpper(gene))
	if gene == "" {
		return nil, &domain.ValidationRejectedError{Descriptor: gene, Messages: []string{"gene symbol is empty"}}
	}

	key := cacheKey("transcripts", c.build, c.selectTranscripts, gene)
	var transcripts []string
	if c.cachedJSON(ctx, key, &transcripts) {
		return transcripts, nil
	}

	path := fmt.Sprintf("/VariantValidator/tools/gene2transcripts_v2/%s/%s/refseq/%s",
		url.PathEscape(gene), url.PathEscape(c.selectTranscripts), url.PathEscape(c.build))
	body, err := c.call(ctx, gene, path)
	if err != nil {
		return nil, err
	}

	var genes []geneTranscripts
	if err := json.Unmarshal(body, &genes); err != nil {
		return nil, &domain.ValidationUnavailableError{Descriptor: gene, Cause: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(genes) == 0 {
		return nil, &domain.ValidationRejectedError{Descriptor: gene, Messages: []string{"gene symbol not recognized"}}
	}
	if genes[0].Error != "" {
		return nil, &domain.ValidationRejectedError{Descriptor: gene, Messages: []string{genes[0].Error}}
	}

	seen := make(map[string]bool)
	transcripts = []string{}
	for _, g := range genes {
		for _, t := range g.Transcripts {
			if t.Reference != "" && !seen[t.Reference] {
				seen[t.Reference] = true
				transcripts = append(transcripts, t.Reference)
			}
		}
	}
	sort.Strings(transcripts)
	c.storeJSON(ctx, key, transcripts)
	return transcripts, nil
}

// BreakerState returns the current circuit breaker state
func (c *VariantValidatorClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// call runs one GET through the rate limiter and circuit breaker.
func (c *VariantValidatorClient) call(ctx context.Context, subject, path string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, subject, path)
	})
	if err != nil {
		if isBreakerRefusal(err) {
			return nil, &domain.ValidationUnavailableError{Descriptor: subject, Cause: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *VariantValidatorClient) get(ctx context.Context, subject, path string) ([]byte, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, &domain.ValidationUnavailableError{Descriptor: subject, Cause: fmt.Errorf("rate limit wait failed: %w", err)}
	}

	reqURL := c.baseURL + path + "?content-type=application%2Fjson"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &domain.ValidationUnavailableError{Descriptor: subject, Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "phenovariant-server/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ValidationUnavailableError{Descriptor: subject, Cause: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &domain.ValidationUnavailableError{Descriptor: subject, Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.WithFields(logrus.Fields{
		"subject":  subject,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("VariantValidator request")

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, &domain.ValidationRejectedError{
			Descriptor: subject,
			Messages:   []string{fmt.Sprintf("validator returned status %d", resp.StatusCode)},
		}
	default:
		return nil, &domain.ValidationUnavailableError{
			Descriptor: subject,
			Cause:      fmt.Errorf("validator returned status %d", resp.StatusCode),
		}
	}
}

// parseVariantResponse reads a variantvalidator body. The body is an
// object keyed by descriptor plus "flag" and "metadata" members.
func parseVariantResponse(body []byte) (*domain.ValidationOutcome, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var flag string
	if raw, ok := members["flag"]; ok {
		_ = json.Unmarshal(raw, &flag)
	}

	keys := make([]string, 0, len(members))
	for k := range members {
		if k != "flag" && k != "metadata" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	outcome := &domain.ValidationOutcome{}
	for _, k := range keys {
		var entry variantEntry
		if err := json.Unmarshal(members[k], &entry); err != nil {
			continue
		}
		outcome.Errors = append(outcome.Errors, entry.ValidationWarnings...)
		if outcome.Normalized == "" && entry.HGVSTranscriptVariant != "" {
			outcome.Normalized = entry.HGVSTranscriptVariant
			outcome.GeneSymbol = entry.GeneSymbol
		}
	}

	switch flag {
	case "gene_variant", "intergenic", "mitochondrial":
		outcome.Valid = len(outcome.Errors) == 0 && outcome.Normalized != ""
	default:
		outcome.Valid = false
	}
	if !outcome.Valid && len(outcome.Errors) == 0 {
		outcome.Errors = []string{fmt.Sprintf("validator flagged the descriptor as %q", flag)}
	}
	return outcome, nil
}

func outcomeResult(descriptor string, outcome *domain.ValidationOutcome) (*domain.ValidationOutcome, error) {
	if !outcome.Valid {
		return outcome, &domain.ValidationRejectedError{Descriptor: descriptor, Messages: outcome.Errors}
	}
	return outcome, nil
}

func (c *VariantValidatorClient) cachedJSON(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Validator cache read failed")
		return false
	}
	if !ok {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (c *VariantValidatorClient) storeJSON(ctx context.Context, key string, v interface{}) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
		// Log cache error but don't fail the request
		c.logger.WithError(err).Warn("Validator cache write failed")
	}
}
