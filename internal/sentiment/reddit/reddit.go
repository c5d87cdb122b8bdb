// Package reddit reads hot posts and their top-level comments through the
// public JSON listings.
package reddit

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
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	defaultUserAgent = "stratbot/1.0"
)

type Comment struct {
	PostID string
	Body   string
}

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string `json:"kind"`
	Data struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	} `json:"data"`
}

type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	log       zerolog.Logger
}

func New(baseURL, userAgent string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: 20 * time.Second},
		log:       log.With().Str("component", "reddit").Logger(),
	}
}

// Comments returns the top-level comments of the first postLimit hot posts.
// Posts whose comments cannot be loaded are logged and skipped.
func (c *Client) Comments(ctx context.Context, subreddit string, postLimit int) ([]Comment, error) {
	var hot listing
	u := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", c.baseURL, url.PathEscape(subreddit), postLimit)
	if err := c.get(ctx, u, &hot); err != nil {
		return nil, fmt.Errorf("hot posts of r/%s: %w", subreddit, err)
	}

	var out []Comment
	for _, post := range hot.Data.Children {
		if post.Kind != "t3" {
			continue
		}
		var thread []listing
		u := fmt.Sprintf("%s/comments/%s.json?depth=1", c.baseURL, url.PathEscape(post.Data.ID))
		if err := c.get(ctx, u, &thread); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn().Err(err).Str("post", post.Data.ID).Msg("skipping post comments")
			continue
		}
		if len(thread) < 2 {
			continue
		}
		for _, child := range thread[1].Data.Children {
			// "more" entries are collapsed-comment stubs without a body.
			if child.Kind != "t1" || child.Data.Body == "" {
				continue
			}
			out = append(out, Comment{PostID: post.Data.ID, Body: child.Data.Body})
		}
	}
	c.log.Debug().Str("subreddit", subreddit).Int("comments", len(out)).Msg("fetched comments")
	return out, nil
}

func (c *Client) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reddit error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
