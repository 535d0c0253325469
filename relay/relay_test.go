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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cachet-io/cachet/api"
	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestKey(t *testing.T) (ed25519.PrivateKey, auth.Principal) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, auth.NewPrincipal(pub)
}

// newTestRelay builds a relay pointed at the given node URL and returns its
// route mux so tests drive handlers without a listening socket.
func newTestRelay(
	t *testing.T,
	nodeURL string,
) (*Relay, *http.ServeMux) {
	t.Helper()
	key, _ := newTestKey(t)
	rl, err := New(RelayConfig{
		NodeURL: nodeURL,
		Key:     key,
	}, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	rl.registerRoutes(mux)
	return rl, mux
}

func doRequest(
	mux *http.ServeMux,
	method string,
	path string,
	body []byte,
) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeError(
	t *testing.T,
	w *httptest.ResponseRecorder,
) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

// fakeNode stands in for the node API behind an httptest server.
func fakeNode(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeNodeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck,errchkjson
}

func TestRelayNewValidation(t *testing.T) {
	key, _ := newTestKey(t)

	_, err := New(RelayConfig{Key: key}, nil)
	assert.ErrorContains(t, err, "node URL")

	_, err = New(RelayConfig{NodeURL: "http://localhost:3000"}, nil)
	assert.ErrorContains(t, err, "signing key")

	rl, err := New(RelayConfig{
		NodeURL: "http://localhost:3000",
		Key:     key,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, ":3001", rl.config.ListenAddress)
	assert.NotEmpty(t, rl.Principal().String())
}

func TestRelayStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	key, _ := newTestKey(t)
	rl, err := New(RelayConfig{
		ListenAddress: "localhost:0",
		NodeURL:       "http://localhost:9",
		Key:           key,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rl.Start(ctx))
	assert.ErrorContains(t, rl.Start(ctx), "already started")
	require.NoError(t, rl.Stop(context.Background()))
	cancel()
}

func TestNodeClientSignsEnvelope(t *testing.T) {
	key, relayPrincipal := newTestKey(t)
	_, recipient := newTestKey(t)

	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"POST /gifts/{id}/relay-claim",
		func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var env auth.Envelope
			require.NoError(t, json.Unmarshal(body, &env))
			caller, err := env.Verify(
				auth.TagRelayClaim,
				time.Now(),
				auth.DefaultEnvelopeWindow,
			)
			require.NoError(t, err)
			assert.Equal(t, relayPrincipal, caller)
			var req api.RelayClaimGiftRequest
			require.NoError(t, json.Unmarshal(env.Payload, &req))
			assert.Equal(t, uint64(7), req.GiftID)
			assert.Equal(t, recipient.String(), req.Recipient)
			writeNodeJSON(w, http.StatusOK, api.ClaimResponse{
				GiftID:  7,
				Attempt: 1,
				Amount:  1000000,
				Payout:  1000000,
				Relayed: true,
			})
		},
	)
	node := fakeNode(t, nodeMux)

	client := NewNodeClient(node.URL, key)
	outcome, err := client.RelayClaimGift(
		context.Background(),
		api.RelayClaimGiftRequest{
			GiftID:    7,
			Recipient: recipient.String(),
			Proof:     api.ProofRequest{Answer: "open sesame"},
			Nonce:     0,
			Signature: "ab",
		},
	)
	require.NoError(t, err)
	assert.True(t, outcome.Relayed)
	assert.Equal(t, uint64(1000000), outcome.Payout)
}

func TestNodeClientErrorPassThrough(t *testing.T) {
	key, _ := newTestKey(t)
	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"POST /gifts/{id}/relay-claim",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(w, http.StatusConflict, api.ErrorResponse{
				StatusCode: http.StatusConflict,
				Error:      "invalid_nonce",
				Message:    "stale nonce: got 4",
			})
		},
	)
	node := fakeNode(t, nodeMux)

	client := NewNodeClient(node.URL, key)
	_, err := client.RelayClaimGift(
		context.Background(),
		api.RelayClaimGiftRequest{GiftID: 7},
	)
	require.Error(t, err)
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, http.StatusConflict, nodeErr.StatusCode)
	assert.Equal(t, "invalid_nonce", nodeErr.Code)
	assert.Contains(t, nodeErr.Message, "stale nonce")
}

func TestCreateClaimHash(t *testing.T) {
	recipientKey, recipient := newTestKey(t)

	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"GET /gifts/{id}/nonce",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(w, http.StatusOK, api.NonceResponse{
				Target: "g/7",
				Nonce:  3,
			})
		},
	)
	node := fakeNode(t, nodeMux)
	_, mux := newTestRelay(t, node.URL)

	w := doRequest(mux, "POST", "/create-claim-hash", marshal(t,
		CreateClaimHashRequest{
			GiftID:    7,
			Recipient: recipient.String(),
			Proof:     api.ProofRequest{Answer: "open sesame"},
		},
	))
	require.Equal(t, http.StatusOK, w.Code)
	var resp CreateClaimHashResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "g/7", resp.Target)
	assert.Equal(t, uint64(3), resp.Nonce)

	// The digest commits to the returned message
	message, err := hex.DecodeString(resp.Message)
	require.NoError(t, err)
	digest, err := hex.DecodeString(resp.Digest)
	require.NoError(t, err)
	sum := auth.Digest(message)
	assert.Equal(t, sum[:], digest)

	// Signing the digest yields a mandate the ledger accepts
	sig := hex.EncodeToString(ed25519.Sign(recipientKey, digest))
	proof := unlock.Proof{Answer: "open sesame"}
	require.NoError(t, auth.VerifyClaimMandate(
		auth.GiftTarget(7),
		recipient,
		proof.Digest(),
		3,
		sig,
	))
}

func TestCreateClaimHashTargetValidation(t *testing.T) {
	_, recipient := newTestKey(t)
	_, mux := newTestRelay(t, "http://localhost:9")

	// Naming both targets is rejected before any node round trip
	w := doRequest(mux, "POST", "/create-claim-hash", marshal(t,
		CreateClaimHashRequest{
			GiftID:    7,
			ChainID:   "feedbead",
			Recipient: recipient.String(),
		},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(
		t,
		decodeError(t, w).Message,
		"mutually exclusive",
	)

	w = doRequest(mux, "POST", "/create-claim-hash", marshal(t,
		CreateClaimHashRequest{Recipient: recipient.String()},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "no claim target")

	w = doRequest(mux, "POST", "/create-claim-hash", marshal(t,
		CreateClaimHashRequest{GiftID: 7, Recipient: "zzz"},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_parameters", decodeError(t, w).Error)

	w = doRequest(mux, "POST", "/create-claim-hash", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(
		t,
		"malformed request body",
		decodeError(t, w).Message,
	)
}

func TestNonceProxy(t *testing.T) {
	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"GET /gifts/{id}/nonce",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(w, http.StatusOK, api.NonceResponse{
				Target: "g/7",
				Nonce:  5,
			})
		},
	)
	nodeMux.HandleFunc(
		"GET /chains/{id}/steps/{index}/nonce",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "feedbead", r.PathValue("id"))
			assert.Equal(t, "2", r.PathValue("index"))
			writeNodeJSON(w, http.StatusOK, api.NonceResponse{
				Target: "c/feedbead/2",
				Nonce:  1,
			})
		},
	)
	node := fakeNode(t, nodeMux)
	_, mux := newTestRelay(t, node.URL)

	w := doRequest(mux, "GET", "/nonce/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var nonce api.NonceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nonce))
	assert.Equal(t, "g/7", nonce.Target)
	assert.Equal(t, uint64(5), nonce.Nonce)

	w = doRequest(mux, "GET", "/chain-nonce/feedbead/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	nonce = api.NonceResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nonce))
	assert.Equal(t, "c/feedbead/2", nonce.Target)

	w = doRequest(mux, "GET", "/nonce/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed gift id", decodeError(t, w).Message)

	w = doRequest(mux, "GET", "/chain-nonce/feedbead/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed step index", decodeError(t, w).Message)
}

func TestNonceProxyNodeRejection(t *testing.T) {
	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"GET /gifts/{id}/nonce",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(w, http.StatusNotFound, api.ErrorResponse{
				StatusCode: http.StatusNotFound,
				Error:      "not_found",
				Message:    "not found",
			})
		},
	)
	node := fakeNode(t, nodeMux)
	_, mux := newTestRelay(t, node.URL)

	w := doRequest(mux, "GET", "/nonce/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Error)
}

func TestRelayClaimPassThrough(t *testing.T) {
	_, recipient := newTestKey(t)
	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"POST /gifts/{id}/relay-claim",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(w, http.StatusOK, api.ClaimResponse{
				GiftID:  7,
				Attempt: 1,
				Amount:  1000000,
				Payout:  975000,
				Fee:     25000,
				Relayed: true,
			})
		},
	)
	nodeMux.HandleFunc(
		"POST /chains/{id}/steps/{index}/relay-claim",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(
				w,
				http.StatusUnprocessableEntity,
				api.ErrorResponse{
					StatusCode: http.StatusUnprocessableEntity,
					Error:      "verification_failed",
					Message:    "challenge not satisfied",
				},
			)
		},
	)
	node := fakeNode(t, nodeMux)
	rl, mux := newTestRelay(t, node.URL)

	w := doRequest(mux, "POST", "/relay-claim", marshal(t,
		api.RelayClaimGiftRequest{
			GiftID:    7,
			Recipient: recipient.String(),
			Proof:     api.ProofRequest{Answer: "open sesame"},
			Signature: "ab",
		},
	))
	require.Equal(t, http.StatusOK, w.Code)
	var outcome api.ClaimResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.True(t, outcome.Relayed)
	assert.Equal(t, uint64(25000), outcome.Fee)

	// Ledger rejections pass through unchanged
	w = doRequest(mux, "POST", "/relay-claim-step", marshal(t,
		api.RelayClaimStepRequest{
			ChainID:   "feedbead",
			StepIndex: 0,
			Recipient: recipient.String(),
			Signature: "ab",
		},
	))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "verification_failed", resp.Error)
	assert.Equal(t, "challenge not satisfied", resp.Message)

	// Failed submissions release the guard
	assert.Equal(t, 0, rl.pending.Size())
}

func TestRelayClaimShapeValidation(t *testing.T) {
	_, recipient := newTestKey(t)
	rl, mux := newTestRelay(t, "http://localhost:9")

	w := doRequest(mux, "POST", "/relay-claim", marshal(t,
		api.RelayClaimGiftRequest{
			Recipient: recipient.String(),
			Signature: "ab",
		},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "gift_id required", decodeError(t, w).Message)

	w = doRequest(mux, "POST", "/relay-claim", marshal(t,
		api.RelayClaimGiftRequest{
			GiftID:    7,
			Recipient: "not-a-principal",
			Signature: "ab",
		},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(mux, "POST", "/relay-claim", marshal(t,
		api.RelayClaimGiftRequest{
			GiftID:    7,
			Recipient: recipient.String(),
		},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "signature required", decodeError(t, w).Message)

	w = doRequest(mux, "POST", "/relay-claim-step", marshal(t,
		api.RelayClaimStepRequest{
			Recipient: recipient.String(),
			Signature: "ab",
		},
	))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "chain_id required", decodeError(t, w).Message)

	// Rejected shapes never occupy the guard
	assert.Equal(t, 0, rl.pending.Size())
}

func TestRelayClaimPendingGuard(t *testing.T) {
	_, recipient := newTestKey(t)
	arrived := make(chan struct{})
	release := make(chan struct{})

	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"POST /gifts/{id}/relay-claim",
		func(w http.ResponseWriter, _ *http.Request) {
			select {
			case <-arrived:
			default:
				close(arrived)
			}
			<-release
			writeNodeJSON(w, http.StatusOK, api.ClaimResponse{
				GiftID:  7,
				Attempt: 1,
				Relayed: true,
			})
		},
	)
	node := fakeNode(t, nodeMux)
	_, mux := newTestRelay(t, node.URL)

	body := marshal(t, api.RelayClaimGiftRequest{
		GiftID:    7,
		Recipient: recipient.String(),
		Proof:     api.ProofRequest{Answer: "open sesame"},
		Signature: "ab",
	})

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- doRequest(mux, "POST", "/relay-claim", body)
	}()
	<-arrived

	// A duplicate while the first is in flight bounces off the guard
	// without reaching the node
	w := doRequest(mux, "POST", "/relay-claim", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "transaction_already_pending", resp.Error)

	close(release)
	first := <-firstDone
	assert.Equal(t, http.StatusOK, first.Code)

	// The guard is free again once the flight lands
	w = doRequest(mux, "POST", "/relay-claim", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRelayClaimNodeUnreachable(t *testing.T) {
	_, recipient := newTestKey(t)
	node := httptest.NewServer(http.NewServeMux())
	nodeURL := node.URL
	node.Close()
	rl, mux := newTestRelay(t, nodeURL)

	w := doRequest(mux, "POST", "/relay-claim", marshal(t,
		api.RelayClaimGiftRequest{
			GiftID:    7,
			Recipient: recipient.String(),
			Signature: "ab",
		},
	))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "node_unreachable", decodeError(t, w).Error)
	assert.Equal(t, 0, rl.pending.Size())
}

func TestRelayHealth(t *testing.T) {
	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc(
		"GET /health",
		func(w http.ResponseWriter, _ *http.Request) {
			writeNodeJSON(w, http.StatusOK, api.HealthResponse{
				Healthy: true,
			})
		},
	)
	nodeMux.HandleFunc(
		"GET /accounts/{principal}",
		func(w http.ResponseWriter, r *http.Request) {
			writeNodeJSON(w, http.StatusOK, api.AccountResponse{
				Principal: r.PathValue("principal"),
				Balance:   4200000,
			})
		},
	)
	node := fakeNode(t, nodeMux)
	rl, mux := newTestRelay(t, node.URL)

	w := doRequest(mux, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rl.Principal().String(), resp.Principal)
	assert.True(t, resp.NodeReachable)
	assert.Equal(t, uint64(4200000), resp.Balance)
	assert.Equal(t, 0, resp.PendingClaims)
}

func TestRelayHealthNodeDown(t *testing.T) {
	node := httptest.NewServer(http.NewServeMux())
	nodeURL := node.URL
	node.Close()
	rl, mux := newTestRelay(t, nodeURL)

	w := doRequest(mux, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rl.Principal().String(), resp.Principal)
	assert.False(t, resp.NodeReachable)
	assert.Equal(t, uint64(0), resp.Balance)
}
