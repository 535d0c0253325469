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

package api

import (
	"encoding/hex"
	"fmt"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/geo"
	"github.com/cachet-io/cachet/ledger"
	"github.com/cachet-io/cachet/unlock"
)

// ErrorResponse is the JSON error envelope for every failed request.
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Healthy     bool   `json:"healthy"`
	JournalSeq  uint64 `json:"journal_seq"`
	ValueLocked uint64 `json:"value_locked"`
}

// Coordinate is a microdegree coordinate pair as transmitted in proofs.
type Coordinate struct {
	Latitude  int64 `json:"latitude"`
	Longitude int64 `json:"longitude"`
}

// ProofRequest carries a claim proof. Coordinate and answer follow the
// challenge's unlock type; the attestation rides alongside when the
// challenge demands one.
type ProofRequest struct {
	Coordinate  *Coordinate               `json:"coordinate,omitempty"`
	Answer      string                    `json:"answer,omitempty"`
	Attestation *auth.LocationAttestation `json:"attestation,omitempty"`
}

// ToProof converts the wire proof into the ledger's proof form.
func (p ProofRequest) ToProof() unlock.Proof {
	proof := unlock.Proof{
		Answer:      p.Answer,
		Attestation: p.Attestation,
	}
	if p.Coordinate != nil {
		proof.Coordinate = &geo.Point{
			Latitude:  p.Coordinate.Latitude,
			Longitude: p.Coordinate.Longitude,
		}
	}
	return proof
}

// CreateGiftRequest is the envelope payload for POST /gifts. The answer
// digest is hex encoded.
type CreateGiftRequest struct {
	Recipient           string `json:"recipient"`
	Amount              uint64 `json:"amount"`
	UnlockType          uint8  `json:"unlock_type"`
	TargetLat           int64  `json:"target_lat,omitempty"`
	TargetLon           int64  `json:"target_lon,omitempty"`
	Radius              uint32 `json:"radius,omitempty"`
	AnswerDigest        string `json:"answer_digest,omitempty"`
	AttestationRequired bool   `json:"attestation_required,omitempty"`
	Title               string `json:"title,omitempty"`
	Message             string `json:"message,omitempty"`
	ClueText            string `json:"clue_text,omitempty"`
	ExpiresAt           int64  `json:"expires_at"`
}

func (r CreateGiftRequest) toParams() (ledger.CreateGiftParams, error) {
	digest, err := decodeDigest(r.AnswerDigest)
	if err != nil {
		return ledger.CreateGiftParams{}, err
	}
	return ledger.CreateGiftParams{
		Recipient:           r.Recipient,
		Amount:              r.Amount,
		UnlockType:          unlock.Type(r.UnlockType),
		TargetLat:           r.TargetLat,
		TargetLon:           r.TargetLon,
		Radius:              r.Radius,
		AnswerDigest:        digest,
		AttestationRequired: r.AttestationRequired,
		Title:               r.Title,
		Message:             r.Message,
		ClueText:            r.ClueText,
		ExpiresAt:           r.ExpiresAt,
	}, nil
}

// CreateGiftResponse is returned by POST /gifts.
type CreateGiftResponse struct {
	GiftID uint64 `json:"gift_id"`
}

// ClaimGiftRequest is the envelope payload for POST /gifts/{id}/claim. The
// gift ID repeats the path so the signature binds to the target.
type ClaimGiftRequest struct {
	GiftID uint64       `json:"gift_id"`
	Proof  ProofRequest `json:"proof"`
}

// RelayClaimGiftRequest is the envelope payload for
// POST /gifts/{id}/relay-claim. Signature is the recipient's claim mandate
// over the proof digest and nonce, not the relay's envelope signature.
type RelayClaimGiftRequest struct {
	GiftID    uint64       `json:"gift_id"`
	Recipient string       `json:"recipient"`
	Proof     ProofRequest `json:"proof"`
	Nonce     uint64       `json:"nonce"`
	Signature string       `json:"signature"`
}

// GiftTargetRequest is the envelope payload for gift refund and recovery.
type GiftTargetRequest struct {
	GiftID uint64 `json:"gift_id"`
}

// ClaimResponse reports a settled claim. Reward fields appear for chain
// steps carrying reveal content; reward content is base64 encoded.
type ClaimResponse struct {
	GiftID            uint64 `json:"gift_id,omitempty"`
	ChainID           string `json:"chain_id,omitempty"`
	StepIndex         uint32 `json:"step_index,omitempty"`
	Attempt           uint64 `json:"attempt"`
	Distance          int64  `json:"distance"`
	Amount            uint64 `json:"amount"`
	Fee               uint64 `json:"fee"`
	Payout            uint64 `json:"payout"`
	Relayed           bool   `json:"relayed,omitempty"`
	ChainCompleted    bool   `json:"chain_completed,omitempty"`
	RewardContent     []byte `json:"reward_content,omitempty"`
	RewardContentType string `json:"reward_content_type,omitempty"`
}

func claimResponse(outcome ledger.ClaimOutcome) ClaimResponse {
	return ClaimResponse{
		GiftID:            outcome.Target.GiftID,
		ChainID:           outcome.Target.ChainID,
		StepIndex:         outcome.Target.StepIndex,
		Attempt:           outcome.Attempt,
		Distance:          outcome.Distance,
		Amount:            outcome.Amount,
		Fee:               outcome.Fee,
		Payout:            outcome.Payout,
		Relayed:           outcome.Relayed,
		ChainCompleted:    outcome.ChainCompleted,
		RewardContent:     outcome.RewardContent,
		RewardContentType: outcome.RewardContentType,
	}
}

// GiftResponse is the public view of a gift. Challenge commitments (target
// coordinate and answer digest) stay private to the ledger.
type GiftResponse struct {
	ID                  uint64 `json:"id"`
	Creator             string `json:"creator"`
	Recipient           string `json:"recipient"`
	Amount              uint64 `json:"amount"`
	FeeBps              uint32 `json:"fee_bps"`
	UnlockType          string `json:"unlock_type"`
	Radius              uint32 `json:"radius,omitempty"`
	AttestationRequired bool   `json:"attestation_required,omitempty"`
	Title               string `json:"title,omitempty"`
	Message             string `json:"message,omitempty"`
	ClueText            string `json:"clue_text,omitempty"`
	Status              string `json:"status"`
	ExpiredNotice       bool   `json:"expired_notice,omitempty"`
	ExpiresAt           int64  `json:"expires_at"`
	CreatedAt           int64  `json:"created_at"`
	ClaimedAt           int64  `json:"claimed_at,omitempty"`
	RefundedAt          int64  `json:"refunded_at,omitempty"`
	SettledFee          uint64 `json:"settled_fee,omitempty"`
	SettledPayout       uint64 `json:"settled_payout,omitempty"`
	ClaimAttempts       uint64 `json:"claim_attempts"`
	LastAttemptAt       int64  `json:"last_attempt_at,omitempty"`
	LastAttemptDistance int64  `json:"last_attempt_distance"`
}

func giftResponse(gift *models.Gift) GiftResponse {
	return GiftResponse{
		ID:                  gift.ID,
		Creator:             gift.Creator,
		Recipient:           gift.Recipient,
		Amount:              uint64(gift.Amount),
		FeeBps:              gift.FeeBps,
		UnlockType:          unlock.Type(gift.UnlockType).String(),
		Radius:              gift.Radius,
		AttestationRequired: gift.AttestationRequired,
		Title:               gift.Title,
		Message:             gift.Message,
		ClueText:            gift.ClueText,
		Status:              models.StatusName(gift.Status),
		ExpiredNotice:       gift.ExpiredNotice,
		ExpiresAt:           gift.ExpiresAt,
		CreatedAt:           gift.CreatedAt,
		ClaimedAt:           gift.ClaimedAt,
		RefundedAt:          gift.RefundedAt,
		SettledFee:          uint64(gift.SettledFee),
		SettledPayout:       uint64(gift.SettledPayout),
		ClaimAttempts:       gift.ClaimAttempts,
		LastAttemptAt:       gift.LastAttemptAt,
		LastAttemptDistance: gift.LastAttemptDistance,
	}
}

// CreateChainStepRequest is one step of a chain creation payload. The
// answer digest is hex encoded and reward content base64 encoded.
type CreateChainStepRequest struct {
	Amount              uint64 `json:"amount"`
	UnlockType          uint8  `json:"unlock_type"`
	TargetLat           int64  `json:"target_lat,omitempty"`
	TargetLon           int64  `json:"target_lon,omitempty"`
	Radius              uint32 `json:"radius,omitempty"`
	AnswerDigest        string `json:"answer_digest,omitempty"`
	AttestationRequired bool   `json:"attestation_required,omitempty"`
	Title               string `json:"title,omitempty"`
	Message             string `json:"message,omitempty"`
	RewardContent       []byte `json:"reward_content,omitempty"`
	RewardContentType   string `json:"reward_content_type,omitempty"`
}

// CreateChainRequest is the envelope payload for POST /chains.
type CreateChainRequest struct {
	Recipient   string                   `json:"recipient"`
	Title       string                   `json:"title,omitempty"`
	Description string                   `json:"description,omitempty"`
	ExpiresAt   int64                    `json:"expires_at"`
	Steps       []CreateChainStepRequest `json:"steps"`
}

func (r CreateChainRequest) toParams() (ledger.CreateChainParams, error) {
	steps := make([]ledger.CreateChainStepParams, 0, len(r.Steps))
	for i, step := range r.Steps {
		digest, err := decodeDigest(step.AnswerDigest)
		if err != nil {
			return ledger.CreateChainParams{}, fmt.Errorf(
				"step %d: %w",
				i,
				err,
			)
		}
		steps = append(steps, ledger.CreateChainStepParams{
			Amount:              step.Amount,
			UnlockType:          unlock.Type(step.UnlockType),
			TargetLat:           step.TargetLat,
			TargetLon:           step.TargetLon,
			Radius:              step.Radius,
			AnswerDigest:        digest,
			AttestationRequired: step.AttestationRequired,
			Title:               step.Title,
			Message:             step.Message,
			RewardContent:       step.RewardContent,
			RewardContentType:   step.RewardContentType,
		})
	}
	return ledger.CreateChainParams{
		Recipient:   r.Recipient,
		Title:       r.Title,
		Description: r.Description,
		ExpiresAt:   r.ExpiresAt,
		Steps:       steps,
	}, nil
}

// CreateChainResponse is returned by POST /chains.
type CreateChainResponse struct {
	ChainID string `json:"chain_id"`
}

// ClaimStepRequest is the envelope payload for step claims. Chain ID and
// step index repeat the path so the signature binds to the target.
type ClaimStepRequest struct {
	ChainID   string       `json:"chain_id"`
	StepIndex uint32       `json:"step_index"`
	Proof     ProofRequest `json:"proof"`
}

// RelayClaimStepRequest is the envelope payload for
// POST /chains/{id}/steps/{index}/relay-claim.
type RelayClaimStepRequest struct {
	ChainID   string       `json:"chain_id"`
	StepIndex uint32       `json:"step_index"`
	Recipient string       `json:"recipient"`
	Proof     ProofRequest `json:"proof"`
	Nonce     uint64       `json:"nonce"`
	Signature string       `json:"signature"`
}

// ChainTargetRequest is the envelope payload for chain refund and recovery.
type ChainTargetRequest struct {
	ChainID string `json:"chain_id"`
}

// ChainStepResponse is the public view of one chain step.
type ChainStepResponse struct {
	StepIndex           uint32 `json:"step_index"`
	Amount              uint64 `json:"amount"`
	UnlockType          string `json:"unlock_type"`
	Radius              uint32 `json:"radius,omitempty"`
	AttestationRequired bool   `json:"attestation_required,omitempty"`
	Title               string `json:"title,omitempty"`
	Message             string `json:"message,omitempty"`
	HasRewardContent    bool   `json:"has_reward_content,omitempty"`
	RewardContentType   string `json:"reward_content_type,omitempty"`
	Completed           bool   `json:"completed"`
	CompletedAt         int64  `json:"completed_at,omitempty"`
	SettledFee          uint64 `json:"settled_fee,omitempty"`
	SettledPayout       uint64 `json:"settled_payout,omitempty"`
	ClaimAttempts       uint64 `json:"claim_attempts"`
	LastAttemptAt       int64  `json:"last_attempt_at,omitempty"`
	LastAttemptDistance int64  `json:"last_attempt_distance"`
}

func chainStepResponse(step models.ChainStep) ChainStepResponse {
	return ChainStepResponse{
		StepIndex:           step.StepIndex,
		Amount:              uint64(step.Amount),
		UnlockType:          unlock.Type(step.UnlockType).String(),
		Radius:              step.Radius,
		AttestationRequired: step.AttestationRequired,
		Title:               step.Title,
		Message:             step.Message,
		HasRewardContent:    step.HasRewardContent,
		RewardContentType:   step.RewardContentType,
		Completed:           step.Completed,
		CompletedAt:         step.CompletedAt,
		SettledFee:          uint64(step.SettledFee),
		SettledPayout:       uint64(step.SettledPayout),
		ClaimAttempts:       step.ClaimAttempts,
		LastAttemptAt:       step.LastAttemptAt,
		LastAttemptDistance: step.LastAttemptDistance,
	}
}

// ChainResponse is the public view of a chain. Steps are included on the
// single-chain endpoint and omitted from listings.
type ChainResponse struct {
	ID            string              `json:"id"`
	Creator       string              `json:"creator"`
	Recipient     string              `json:"recipient"`
	TotalAmount   uint64              `json:"total_amount"`
	FeeBps        uint32              `json:"fee_bps"`
	StepCount     uint32              `json:"step_count"`
	CurrentStep   uint32              `json:"current_step"`
	Title         string              `json:"title,omitempty"`
	Description   string              `json:"description,omitempty"`
	Status        string              `json:"status"`
	ExpiredNotice bool                `json:"expired_notice,omitempty"`
	ExpiresAt     int64               `json:"expires_at"`
	CreatedAt     int64               `json:"created_at"`
	CompletedAt   int64               `json:"completed_at,omitempty"`
	RefundedAt    int64               `json:"refunded_at,omitempty"`
	Steps         []ChainStepResponse `json:"steps,omitempty"`
}

func chainResponse(
	chain *models.Chain,
	steps []models.ChainStep,
) ChainResponse {
	ret := ChainResponse{
		ID:            chain.ID,
		Creator:       chain.Creator,
		Recipient:     chain.Recipient,
		TotalAmount:   uint64(chain.TotalAmount),
		FeeBps:        chain.FeeBps,
		StepCount:     chain.StepCount,
		CurrentStep:   chain.CurrentStep,
		Title:         chain.Title,
		Description:   chain.Description,
		Status:        models.StatusName(chain.Status),
		ExpiredNotice: chain.ExpiredNotice,
		ExpiresAt:     chain.ExpiresAt,
		CreatedAt:     chain.CreatedAt,
		CompletedAt:   chain.CompletedAt,
		RefundedAt:    chain.RefundedAt,
	}
	if len(steps) > 0 {
		ret.Steps = make([]ChainStepResponse, 0, len(steps))
		for _, step := range steps {
			ret.Steps = append(ret.Steps, chainStepResponse(step))
		}
	}
	return ret
}

// StepRewardResponse is returned by the step reward endpoint once the step
// has completed. Content is base64 encoded.
type StepRewardResponse struct {
	ChainID     string `json:"chain_id"`
	StepIndex   uint32 `json:"step_index"`
	Content     []byte `json:"content"`
	ContentType string `json:"content_type"`
}

// NonceResponse reports a claim target's current relay nonce.
type NonceResponse struct {
	Target string `json:"target"`
	Nonce  uint64 `json:"nonce"`
}

// AttemptResponse is one claim attempt audit record. Target is the claim
// target key, which distinguishes steps in chain-level listings.
type AttemptResponse struct {
	Target    string `json:"target"`
	Number    uint64 `json:"number"`
	Recipient string `json:"recipient"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Distance  int64  `json:"distance"`
	Relayed   bool   `json:"relayed,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func attemptResponses(attempts []models.Attempt) []AttemptResponse {
	ret := make([]AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		ret = append(ret, AttemptResponse{
			Target:    attempt.TargetKey,
			Number:    attempt.Number,
			Recipient: attempt.Recipient,
			Outcome:   attempt.Outcome,
			Reason:    attempt.Reason,
			Distance:  attempt.Distance,
			Relayed:   attempt.Relayed,
			CreatedAt: attempt.CreatedAt,
		})
	}
	return ret
}

// AccountResponse reports a principal's spendable balance.
type AccountResponse struct {
	Principal string `json:"principal"`
	Balance   uint64 `json:"balance"`
}

// DepositRequest is the envelope payload for operator deposits. The target
// principal repeats the path so the signature binds to it.
type DepositRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ParamsResponse is returned by GET /params.
type ParamsResponse struct {
	FeeBps       uint32 `json:"fee_bps"`
	FeeRecipient string `json:"fee_recipient,omitempty"`
}

// SetFeeRequest is the envelope payload for POST /params/fee.
type SetFeeRequest struct {
	FeeBps uint32 `json:"fee_bps"`
}

// SetFeeRecipientRequest is the envelope payload for
// POST /params/fee-recipient. An empty recipient waives fees.
type SetFeeRecipientRequest struct {
	Recipient string `json:"recipient"`
}

// decodeDigest decodes an optional hex-encoded answer digest. Length is the
// ledger's check; this only rejects non-hex input.
func decodeDigest(digestHex string) ([]byte, error) {
	if digestHex == "" {
		return nil, nil
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, fmt.Errorf("answer_digest: %w", err)
	}
	return digest, nil
}
