package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrAIUnavailable means the helper is not configured or kept rate-limiting
// after all retries.
var ErrAIUnavailable = errors.New("ai helper unavailable")

const (
	aiCacheTTL     = 24 * time.Hour
	aiMaxAttempts  = 4
	aiInitialDelay = time.Second
)

// AIClient asks the external helper for certificate description suggestions.
// Responses are cached in redis keyed by prompt, and 429 responses are
// retried with exponential backoff.
type AIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	redis      *redis.Client
	retryDelay time.Duration
	log        *zap.Logger
}

func NewAIClient(baseURL, apiKey string, timeout time.Duration, rdb *redis.Client, log *zap.Logger) *AIClient {
	return &AIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		redis:      rdb,
		retryDelay: aiInitialDelay,
		log:        log,
	}
}

type aiRequest struct {
	Prompt string `json:"prompt"`
}

type aiResponse struct {
	Text string `json:"text"`
}

// SuggestDescription returns a generated description for the given
// certificate title. Cache hits never touch the helper.
func (c *AIClient) SuggestDescription(ctx context.Context, title string) (string, error) {
	if c.baseURL == "" {
		return "", ErrAIUnavailable
	}

	prompt := fmt.Sprintf("Write a short professional description for a certificate titled %q.", title)
	return c.cachedComplete(ctx, "ai:suggest:"+hashPrompt(prompt), prompt)
}

// AnalyzeProfile summarizes how a recipient's certificates line up with a
// target job role.
func (c *AIClient) AnalyzeProfile(ctx context.Context, titles []string, targetRole string) (string, error) {
	if c.baseURL == "" {
		return "", ErrAIUnavailable
	}

	prompt := fmt.Sprintf(
		"Given the certificates %s, assess how well this profile fits the role %q and name the biggest gaps.",
		strings.Join(titles, ", "), targetRole,
	)
	return c.cachedComplete(ctx, "ai:analyze:"+hashPrompt(prompt), prompt)
}

func (c *AIClient) cachedComplete(ctx context.Context, cacheKey, prompt string) (string, error) {
	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			return cached, nil
		}
	}

	text, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, cacheKey, text, aiCacheTTL).Err(); err != nil {
			c.log.Warn("failed to cache ai response", zap.Error(err))
		}
	}
	return text, nil
}

func (c *AIClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(aiRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}

	delay := c.retryDelay
	for attempt := 1; attempt <= aiMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("ai helper unreachable: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			c.log.Warn("ai helper rate limited",
				zap.Int("attempt", attempt), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return "", fmt.Errorf("ai helper returned %d: %s", resp.StatusCode, string(raw))
		}

		var out aiResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("invalid ai helper response: %w", err)
		}
		return strings.TrimSpace(out.Text), nil
	}
	return "", ErrAIUnavailable
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
