package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/govtally/src/logging"
	"go.uber.org/zap"
)

const defaultPolkassemblyTimeout = 30 * time.Second

// ErrNoPost is returned when Polkassembly has no post for a referendum.
var ErrNoPost = errors.New("polkassembly: post not found")

// Post is the subset of a Polkassembly on-chain post used for display.
type Post struct {
	Title       string
	Description string
	Hash        string
}

// PolkassemblyClient fetches proposal titles and descriptions.
type PolkassemblyClient struct {
	endpoint      string
	network       string
	httpClient    *http.Client
	policy        *bluemonday.Policy
	retryInterval time.Duration
	maxElapsed    time.Duration
	log           *zap.Logger
}

// NewPolkassemblyClient creates a client for endpoint (e.g. https://api.polkassembly.io/api/v1).
func NewPolkassemblyClient(endpoint, network string, log *zap.Logger) *PolkassemblyClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &PolkassemblyClient{
		endpoint:      strings.TrimRight(endpoint, "/"),
		network:       strings.ToLower(strings.TrimSpace(network)),
		httpClient:    &http.Client{Timeout: defaultPolkassemblyTimeout},
		policy:        bluemonday.StrictPolicy(),
		retryInterval: 2 * time.Second,
		maxElapsed:    time.Minute,
		log:           log,
	}
}

type onchainPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// OnchainPost fetches the post for referendum id, with HTML stripped from every field.
func (c *PolkassemblyClient) OnchainPost(ctx context.Context, id uint32) (Post, error) {
	q := url.Values{}
	q.Set("proposalType", "referendums_v2")
	q.Set("postId", strconv.FormatUint(uint64(id), 10))
	endpoint := c.endpoint + "/posts/on-chain-post?" + q.Encode()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-network", c.network)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("polkassembly: request: %w", err)
			if !logging.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNoPost)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.log.Warn("polkassembly request failed, retrying",
				zap.Uint32("proposal_id", id), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("polkassembly: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("polkassembly: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("polkassembly: read body: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return Post{}, err
	}

	var raw onchainPost
	if err := json.Unmarshal(body, &raw); err != nil {
		return Post{}, fmt.Errorf("polkassembly: decode post %d: %w", id, err)
	}
	return Post{
		Title:       c.sanitize(raw.Title),
		Description: c.sanitize(raw.Content),
		Hash:        strings.TrimSpace(raw.Hash),
	}, nil
}

func (c *PolkassemblyClient) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(s)))
}
