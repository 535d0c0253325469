// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cachet-io/cachet/api"
	"github.com/cachet-io/cachet/auth"
)

// maxResponseBytes limits node API responses to 1 MiB. Nothing the relay
// fetches is larger than a claim outcome.
const maxResponseBytes = 1 << 20

// NodeError is a structured rejection from the node API, preserved so the
// relay can pass the node's verdict through to its own caller.
type NodeError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf(
		"node returned %d %s: %s",
		e.StatusCode,
		e.Code,
		e.Message,
	)
}

// NodeClient is an HTTP client for the node API. Mutating requests are
// wrapped in envelopes signed with the relay's own key.
type NodeClient struct {
	baseURL    string
	key        ed25519.PrivateKey
	httpClient *http.Client
}

// NodeClientOption is a functional option for configuring a NodeClient.
type NodeClientOption func(*NodeClient)

// WithTimeout sets the per-request timeout. Zero keeps the default.
func WithTimeout(timeout time.Duration) NodeClientOption {
	return func(c *NodeClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) NodeClientOption {
	return func(c *NodeClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewNodeClient creates a client for the node API at the given base URL.
func NewNodeClient(
	baseURL string,
	key ed25519.PrivateKey,
	opts ...NodeClientOption,
) *NodeClient {
	c := &NodeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health fetches the node's health summary.
func (c *NodeClient) Health(
	ctx context.Context,
) (api.HealthResponse, error) {
	var ret api.HealthResponse
	if err := c.doGet(ctx, "/health", &ret); err != nil {
		return ret, fmt.Errorf("checking node health: %w", err)
	}
	return ret, nil
}

// Balance fetches a principal's spendable balance from the node.
func (c *NodeClient) Balance(
	ctx context.Context,
	principal string,
) (api.AccountResponse, error) {
	var ret api.AccountResponse
	path := "/accounts/" + url.PathEscape(principal)
	if err := c.doGet(ctx, path, &ret); err != nil {
		return ret, fmt.Errorf(
			"getting balance for %s: %w",
			principal,
			err,
		)
	}
	return ret, nil
}

// Nonce fetches the stored relay nonce for a claim target.
func (c *NodeClient) Nonce(
	ctx context.Context,
	target auth.ClaimTarget,
) (api.NonceResponse, error) {
	var ret api.NonceResponse
	var path string
	if target.IsStep() {
		path = fmt.Sprintf(
			"/chains/%s/steps/%d/nonce",
			url.PathEscape(target.ChainID),
			target.StepIndex,
		)
	} else {
		path = fmt.Sprintf("/gifts/%d/nonce", target.GiftID)
	}
	if err := c.doGet(ctx, path, &ret); err != nil {
		return ret, fmt.Errorf(
			"getting nonce for %s: %w",
			target.NonceKey(),
			err,
		)
	}
	return ret, nil
}

// RelayClaimGift submits a mandate-authorized gift claim to the node under
// the relay's own envelope.
func (c *NodeClient) RelayClaimGift(
	ctx context.Context,
	req api.RelayClaimGiftRequest,
) (api.ClaimResponse, error) {
	var ret api.ClaimResponse
	path := fmt.Sprintf("/gifts/%d/relay-claim", req.GiftID)
	if err := c.doPost(ctx, path, auth.TagRelayClaim, req, &ret); err != nil {
		return ret, fmt.Errorf(
			"submitting relay claim for gift %d: %w",
			req.GiftID,
			err,
		)
	}
	return ret, nil
}

// RelayClaimStep submits a mandate-authorized step claim to the node under
// the relay's own envelope.
func (c *NodeClient) RelayClaimStep(
	ctx context.Context,
	req api.RelayClaimStepRequest,
) (api.ClaimResponse, error) {
	var ret api.ClaimResponse
	path := fmt.Sprintf(
		"/chains/%s/steps/%d/relay-claim",
		url.PathEscape(req.ChainID),
		req.StepIndex,
	)
	if err := c.doPost(ctx, path, auth.TagRelayClaim, req, &ret); err != nil {
		return ret, fmt.Errorf(
			"submitting relay claim for step %s/%d: %w",
			req.ChainID,
			req.StepIndex,
			err,
		)
	}
	return ret, nil
}

func (c *NodeClient) doGet(
	ctx context.Context,
	path string,
	out any,
) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+path,
		nil,
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *NodeClient) doPost(
	ctx context.Context,
	path string,
	tag string,
	payload any,
	out any,
) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	env := auth.NewEnvelope(c.key, tag, raw, time.Now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *NodeClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	if resp == nil || resp.Body == nil {
		return errors.New("nil response from node")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusCreated {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil &&
			errResp.Error != "" {
			return &NodeError{
				StatusCode: resp.StatusCode,
				Code:       errResp.Error,
				Message:    errResp.Message,
			}
		}
		return fmt.Errorf(
			"unexpected status %d: %s",
			resp.StatusCode,
			string(body),
		)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
