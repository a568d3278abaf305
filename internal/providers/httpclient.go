package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/obslog"
)

// HTTPClientConfig addresses one provider backend: a JSON-over-HTTP service
// exposing /embeddings, /rerank, /extract, and /expand endpoints. Every
// concrete provider_id named in a Config's Providers section (spec §6)
// resolves to one of these, distinguished only by BaseURL/APIKey.
type HTTPClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPProvider implements Embedder, Reranker, Extractor, and Expander over a
// single JSON/HTTP backend, retrying transient failures with an exponential
// backoff, the same retry shape the teacher's mcpserver/client.HTTPClient
// applies to its own upstream calls, generalized from 401/409/429-specific
// retry branches to a plain "5xx or network error" retry predicate since a
// provider call carries no session/epoch state to refresh.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	log        zerolog.Logger
}

// NewHTTPProvider builds an HTTPProvider. A zero Timeout defaults to 30s; a
// zero MaxRetries defaults to 3, matching the teacher's MaxRetries constant.
func NewHTTPProvider(cfg HTTPClientConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &HTTPProvider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		log:        obslog.Component("providers.http"),
	}
}

type embedRequest struct {
	ProviderID string   `json:"provider_id"`
	Model      string   `json:"model"`
	Texts      []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed satisfies Embedder by POSTing to /embeddings.
func (p *HTTPProvider) Embed(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error) {
	var out embedResponse
	if err := p.call(ctx, "/embeddings", cfg.TimeoutMs, embedRequest{ProviderID: cfg.ProviderID, Model: cfg.Model, Texts: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, apperr.Providerf(nil, "embedding provider returned %d vectors for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

type rerankRequest struct {
	ProviderID string   `json:"provider_id"`
	Model      string   `json:"model"`
	Query      string   `json:"query"`
	Documents  []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float32 `json:"scores"`
}

// Rerank satisfies Reranker by POSTing to /rerank.
func (p *HTTPProvider) Rerank(ctx context.Context, cfg RerankConfig, query string, docs []string) ([]float32, error) {
	var out rerankResponse
	if err := p.call(ctx, "/rerank", cfg.TimeoutMs, rerankRequest{ProviderID: cfg.ProviderID, Model: cfg.Model, Query: query, Documents: docs}, &out); err != nil {
		return nil, err
	}
	if len(out.Scores) != len(docs) {
		return nil, apperr.Providerf(nil, "rerank provider returned %d scores for %d documents", len(out.Scores), len(docs))
	}
	return out.Scores, nil
}

type extractRequest struct {
	ProviderID  string          `json:"provider_id"`
	Model       string          `json:"model"`
	Temperature float32         `json:"temperature"`
	Messages    json.RawMessage `json:"messages"`
}

// Extract satisfies Extractor by POSTing to /extract. The response body is
// decoded straight into the caller-facing map, matching the Extractor
// contract's "unmarshal into a map with a notes array" shape.
func (p *HTTPProvider) Extract(ctx context.Context, cfg ExtractConfig, messagesJSON []byte) (map[string]any, error) {
	var out map[string]any
	req := extractRequest{ProviderID: cfg.ProviderID, Model: cfg.Model, Temperature: cfg.Temperature, Messages: messagesJSON}
	if err := p.call(ctx, "/extract", cfg.TimeoutMs, req, &out); err != nil {
		return nil, err
	}
	if _, ok := out["notes"]; !ok {
		return nil, apperr.Providerf(nil, "extract provider response is missing a notes array")
	}
	return out, nil
}

type expandRequest struct {
	ProviderID  string  `json:"provider_id"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	Query       string  `json:"query"`
}

type expandResponse struct {
	Queries []string `json:"queries"`
}

// Expand satisfies Expander by POSTing to /expand.
func (p *HTTPProvider) Expand(ctx context.Context, cfg ExpandConfig, query string) ([]string, error) {
	var out expandResponse
	req := expandRequest{ProviderID: cfg.ProviderID, Model: cfg.Model, Temperature: cfg.Temperature, Query: query}
	if err := p.call(ctx, "/expand", cfg.TimeoutMs, req, &out); err != nil {
		return nil, err
	}
	return out.Queries, nil
}

// call POSTs body as JSON to path and decodes the response into out,
// retrying transient (network or 5xx) failures with an exponential backoff
// for at most p.maxRetries retries after the first attempt. A non-zero timeoutMs overrides the
// request's context deadline for this call only, honoring each provider
// config's own per-call TimeoutMs (spec §6 providers table).
func (p *HTTPProvider) call(ctx context.Context, path string, timeoutMs int, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Provider(err, "encode provider request")
	}

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.maxRetries))
	bo = backoff.WithContext(bo, ctx)

	var respBody []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("provider request failed, retrying")
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("provider %s returned %d: %s", path, resp.StatusCode, string(data))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("provider %s returned %d: %s", path, resp.StatusCode, string(data)))
		}

		respBody = data
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return apperr.Provider(err, fmt.Sprintf("call provider %s", path))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Provider(err, "decode provider response")
	}
	return nil
}
