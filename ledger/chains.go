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

package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
	"github.com/cachet-io/cachet/geo"
	"github.com/cachet-io/cachet/unlock"
)

// chainIDTag scopes the chain ID derivation hash
const chainIDTag = "cachet/v1/chain-id"

// CreateChainStepParams carries one step of a new chain. Challenge fields
// follow the unlock type as for gifts; reward content is revealed to the
// recipient when the step completes.
type CreateChainStepParams struct {
	Amount              uint64
	UnlockType          unlock.Type
	TargetLat           int64
	TargetLon           int64
	Radius              uint32
	AnswerDigest        []byte
	AttestationRequired bool
	Title               string
	Message             string
	RewardContent       []byte
	RewardContentType   string
}

// CreateChainParams carries the creator's inputs for a new chain. All steps
// share the chain's recipient and expiry.
type CreateChainParams struct {
	Recipient   string
	Title       string
	Description string
	ExpiresAt   int64
	Steps       []CreateChainStepParams
}

// deriveChainID computes the chain's identifier: the first 16 bytes, hex
// encoded, of a digest over the creator, recipient, title, creation time,
// and each step's amount, unlock type, and challenge digest
func deriveChainID(
	creator auth.Principal,
	recipient auth.Principal,
	title string,
	createdAt int64,
	steps []CreateChainStepParams,
) string {
	fields := make([][]byte, 0, 4+len(steps)*3)
	createdAtBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(createdAtBytes, uint64(createdAt))
	fields = append(
		fields,
		[]byte(creator),
		[]byte(recipient),
		[]byte(title),
		createdAtBytes,
	)
	for _, step := range steps {
		amountBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(amountBytes, step.Amount)
		fields = append(
			fields,
			amountBytes,
			[]byte{byte(step.UnlockType)},
			step.AnswerDigest,
		)
	}
	digest := auth.Digest(auth.Message(chainIDTag, fields...))
	return hex.EncodeToString(digest[:16])
}

// CreateChain escrows a new multi-step chain: the sum of all step amounts
// moves from the creator's balance into custody. Returns the derived chain
// ID.
func (ls *LedgerState) CreateChain(
	ctx context.Context,
	caller string,
	params CreateChainParams,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	creator, err := checkPrincipal(caller)
	if err != nil {
		return "", err
	}
	recipient, err := checkPrincipal(params.Recipient)
	if err != nil {
		return "", err
	}
	if recipient == creator {
		return "", InvalidParametersError{
			Field:  "recipient",
			Reason: "must differ from creator",
		}
	}
	if len(params.Steps) < MinChainSteps || len(params.Steps) > MaxChainSteps {
		return "", InvalidParametersError{
			Field: "steps",
			Reason: fmt.Sprintf(
				"count %d outside [%d, %d]",
				len(params.Steps),
				MinChainSteps,
				MaxChainSteps,
			),
		}
	}
	if err := checkMetadata(params.Title, params.Description, ""); err != nil {
		return "", err
	}
	now := ls.now()
	if err := checkExpiry(now, params.ExpiresAt); err != nil {
		return "", err
	}
	// Validate each step and total the amounts before touching custody
	var totalAmount uint64
	radii := make([]uint32, len(params.Steps))
	for i, step := range params.Steps {
		if step.Amount == 0 {
			return "", fmt.Errorf(
				"step %d: %w",
				i,
				InsufficientAmountError{Have: 0, Need: 1},
			)
		}
		if totalAmount > math.MaxUint64-step.Amount {
			return "", InvalidParametersError{
				Field:  "steps",
				Reason: "total amount overflows",
			}
		}
		totalAmount += step.Amount
		if !step.UnlockType.Valid() {
			return "", fmt.Errorf(
				"step %d: %w",
				i,
				InvalidParametersError{
					Field:  "unlock_type",
					Reason: "unknown type",
				},
			)
		}
		radius := step.Radius
		if step.UnlockType.RequiresLocation() && radius == 0 {
			radius = unlock.DefaultRadius
		}
		radii[i] = radius
		challenge := unlock.Challenge{
			Target: geo.Point{
				Latitude:  step.TargetLat,
				Longitude: step.TargetLon,
			},
			Radius:              radius,
			Digest:              step.AnswerDigest,
			AttestationRequired: step.AttestationRequired,
		}
		if err := challenge.Validate(step.UnlockType); err != nil {
			return "", fmt.Errorf(
				"step %d: %w",
				i,
				InvalidParametersError{
					Field:  "challenge",
					Reason: err.Error(),
				},
			)
		}
		if err := checkMetadata(step.Title, step.Message, ""); err != nil {
			return "", fmt.Errorf("step %d: %w", i, err)
		}
		if len(step.RewardContent) > MaxRewardContentBytes {
			return "", fmt.Errorf(
				"step %d: %w",
				i,
				InvalidParametersError{
					Field: "reward_content",
					Reason: fmt.Sprintf(
						"exceeds %d bytes",
						MaxRewardContentBytes,
					),
				},
			)
		}
		if len(step.RewardContent) > 0 && step.RewardContentType == "" {
			return "", fmt.Errorf(
				"step %d: %w",
				i,
				InvalidParametersError{
					Field:  "reward_content_type",
					Reason: "required with reward content",
				},
			)
		}
	}
	chainID := deriveChainID(
		creator,
		recipient,
		params.Title,
		now.Unix(),
		params.Steps,
	)
	ls.Lock()
	defer ls.Unlock()
	var events []pendingEvent
	var lockedAfter uint64
	txn := ls.db.Transaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		existing, err := ls.db.GetChain(chainID, txn)
		if err != nil {
			return err
		}
		if existing != nil {
			return InvalidParametersError{
				Field:  "chain_id",
				Reason: "duplicate chain",
			}
		}
		if err := ls.debitBalance(txn, creator, totalAmount); err != nil {
			return err
		}
		locked, err := ls.lockValue(txn, totalAmount)
		if err != nil {
			return err
		}
		lockedAfter = locked
		feeBps, err := ls.currentFeeBps(txn)
		if err != nil {
			return err
		}
		tmpChain := &models.Chain{
			ID:          chainID,
			Creator:     string(creator),
			Recipient:   string(recipient),
			TotalAmount: types.Uint64(totalAmount),
			FeeBps:      feeBps,
			StepCount:   uint32(len(params.Steps)),
			CurrentStep: 0,
			Title:       params.Title,
			Description: params.Description,
			Status:      models.StatusActive,
			ExpiresAt:   params.ExpiresAt,
			CreatedAt:   now.Unix(),
		}
		if err := ls.db.SetChain(tmpChain, txn); err != nil {
			return err
		}
		for i, step := range params.Steps {
			stepRow := &models.ChainStep{
				ChainID:             chainID,
				StepIndex:           uint32(i),
				Amount:              types.Uint64(step.Amount),
				UnlockType:          uint8(step.UnlockType),
				ChallengeDigest:     step.AnswerDigest,
				TargetLat:           step.TargetLat,
				TargetLon:           step.TargetLon,
				Radius:              radii[i],
				AttestationRequired: step.AttestationRequired,
				Title:               step.Title,
				Message:             step.Message,
				RewardContentType:   step.RewardContentType,
				HasRewardContent:    len(step.RewardContent) > 0,
				LastAttemptDistance: -1,
			}
			if err := ls.db.SetChainStep(stepRow, txn); err != nil {
				return err
			}
			if len(step.RewardContent) > 0 {
				err := ls.db.SetChainStepReward(
					chainID,
					uint32(i),
					step.RewardContent,
					txn,
				)
				if err != nil {
					return err
				}
			}
		}
		evt := ChainCreatedEvent{
			ChainID:     chainID,
			Creator:     string(creator),
			Recipient:   string(recipient),
			TotalAmount: totalAmount,
			StepCount:   uint32(len(params.Steps)),
			ExpiresAt:   params.ExpiresAt,
		}
		if err := ls.appendJournal(txn, ChainCreatedEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: ChainCreatedEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return "", err
	}
	ls.metrics.chainsCreatedTotal.Inc()
	ls.metrics.valueLocked.Set(float64(lockedAfter))
	ls.publishEvents(events)
	ls.config.Logger.Info(
		fmt.Sprintf(
			"chain %s created: %d steps, %d units held for %s",
			chainID,
			len(params.Steps),
			totalAmount,
			recipient,
		),
		"component",
		"ledger",
	)
	return chainID, nil
}

// ClaimStep settles the chain's current step when the recipient's proof
// satisfies its challenge. Steps settle strictly in order; the attempt is
// counted and recorded whatever the verification outcome.
func (ls *LedgerState) ClaimStep(
	ctx context.Context,
	caller string,
	chainID string,
	stepIndex uint32,
	proof unlock.Proof,
) (ClaimOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ClaimOutcome{}, err
	}
	claimer, err := checkPrincipal(caller)
	if err != nil {
		return ClaimOutcome{}, err
	}
	ls.Lock()
	defer ls.Unlock()
	return ls.claimStep(claimer, chainID, stepIndex, proof, nil)
}

// RelayClaimStep settles a chain step on the recipient's behalf under a
// signed claim mandate bound to the step's own nonce counter
func (ls *LedgerState) RelayClaimStep(
	ctx context.Context,
	caller string,
	chainID string,
	stepIndex uint32,
	recipient string,
	proof unlock.Proof,
	nonce uint64,
	sig string,
) (ClaimOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ClaimOutcome{}, err
	}
	if _, err := checkPrincipal(caller); err != nil {
		return ClaimOutcome{}, err
	}
	claimer, err := checkPrincipal(recipient)
	if err != nil {
		return ClaimOutcome{}, err
	}
	ls.Lock()
	defer ls.Unlock()
	return ls.claimStep(
		claimer,
		chainID,
		stepIndex,
		proof,
		&relayGrant{Nonce: nonce, Signature: sig},
	)
}

// claimStep is the step claim workhorse shared by the direct and relayed
// paths. Callers hold the state lock. The commit semantics match claimGift:
// a failed verification commits only the attempt bookkeeping and, for
// relays, the nonce consumption.
func (ls *LedgerState) claimStep(
	claimer auth.Principal,
	chainID string,
	stepIndex uint32,
	proof unlock.Proof,
	relay *relayGrant,
) (ClaimOutcome, error) {
	now := ls.now()
	target := auth.StepTarget(chainID, stepIndex)
	var ret ClaimOutcome
	var events []pendingEvent
	var claimErr error
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		tmpChain, err := ls.db.GetChain(chainID, txn)
		if err != nil {
			return err
		}
		if tmpChain == nil {
			return ErrNotFound
		}
		// Preconditions record nothing
		switch tmpChain.Status {
		case models.StatusActive:
		case models.StatusCompleted:
			return ErrAlreadyClaimed
		default:
			return ErrAlreadyRefunded
		}
		if tmpChain.ExpiredAt(now.Unix()) {
			return ErrExpired
		}
		if claimer != auth.Principal(tmpChain.Recipient) {
			return ErrUnauthorizedCaller
		}
		if stepIndex >= tmpChain.StepCount {
			return ErrNotFound
		}
		if stepIndex > tmpChain.CurrentStep {
			return StepNotUnlockedError{
				Current:   tmpChain.CurrentStep,
				Requested: stepIndex,
			}
		}
		if stepIndex < tmpChain.CurrentStep {
			return ErrStepAlreadyCompleted
		}
		step, err := ls.db.GetChainStep(chainID, stepIndex, txn)
		if err != nil {
			return err
		}
		if step == nil {
			return fmt.Errorf(
				"chain %s missing step %d",
				chainID,
				stepIndex,
			)
		}
		if step.Completed {
			return ErrStepAlreadyCompleted
		}
		if relay != nil {
			if err := ls.consumeNonce(txn, target, claimer, proof, relay); err != nil {
				return err
			}
		}
		// Verification
		challenge := unlock.Challenge{
			Target: geo.Point{
				Latitude:  step.TargetLat,
				Longitude: step.TargetLon,
			},
			Radius:              step.Radius,
			Digest:              step.ChallengeDigest,
			AttestationRequired: step.AttestationRequired,
		}
		result, verifyErr := ls.verifier.Verify(
			target,
			unlock.Type(step.UnlockType),
			challenge,
			proof,
			now,
		)
		if verifyErr != nil && !errors.Is(verifyErr, unlock.ErrNotSatisfied) {
			return InvalidParametersError{
				Field:  "proof",
				Reason: verifyErr.Error(),
			}
		}
		// Attempt bookkeeping happens for success and failure alike
		step.ClaimAttempts++
		step.LastAttemptAt = now.Unix()
		step.LastAttemptDistance = result.Distance
		outcome := models.AttemptOutcomeSuccess
		reason := ""
		if verifyErr != nil {
			outcome = models.AttemptOutcomeFailure
			reason = verifyErr.Error()
		}
		attempt := &models.Attempt{
			TargetKey: target.NonceKey(),
			Number:    step.ClaimAttempts,
			Recipient: string(claimer),
			Outcome:   outcome,
			Reason:    reason,
			Distance:  result.Distance,
			Relayed:   relay != nil,
			CreatedAt: now.Unix(),
		}
		if err := ls.db.AddAttempt(attempt, txn); err != nil {
			return err
		}
		attemptEvt := ClaimAttemptEvent{
			Target:    target.NonceKey(),
			Attempt:   step.ClaimAttempts,
			Recipient: string(claimer),
			Outcome:   outcome,
			Reason:    reason,
			Distance:  result.Distance,
			Relayed:   relay != nil,
		}
		if err := ls.appendJournal(txn, ChainClaimAttemptEventType, now.Unix(), &attemptEvt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: ChainClaimAttemptEventType, Payload: &attemptEvt},
		)
		if verifyErr != nil {
			// Commit the bookkeeping, surface the failure
			if err := ls.db.SetChainStep(step, txn); err != nil {
				return err
			}
			claimErr = VerificationFailedError{
				Reason:   verifyErr.Error(),
				Distance: result.Distance,
			}
			return nil
		}
		// Mark, then pay
		step.Completed = true
		step.CompletedAt = now.Unix()
		res, err := ls.settle(txn, claimer, uint64(step.Amount), tmpChain.FeeBps)
		if err != nil {
			return err
		}
		step.SettledFee = types.Uint64(res.Fee)
		step.SettledPayout = types.Uint64(res.Payout)
		if err := ls.db.SetChainStep(step, txn); err != nil {
			return err
		}
		tmpChain.CurrentStep = stepIndex + 1
		chainCompleted := tmpChain.CurrentStep == tmpChain.StepCount
		if chainCompleted {
			tmpChain.Status = models.StatusCompleted
			tmpChain.CompletedAt = now.Unix()
		}
		if err := ls.db.SetChain(tmpChain, txn); err != nil {
			return err
		}
		stepEvt := ChainStepCompletedEvent{
			ChainID:   chainID,
			StepIndex: stepIndex,
			Recipient: string(claimer),
			Amount:    uint64(step.Amount),
			Fee:       res.Fee,
			Payout:    res.Payout,
			Relayed:   relay != nil,
		}
		if err := ls.appendJournal(txn, ChainStepCompletedEventType, now.Unix(), &stepEvt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: ChainStepCompletedEventType, Payload: &stepEvt},
		)
		if chainCompleted {
			doneEvt := ChainCompletedEvent{
				ChainID:     chainID,
				Recipient:   string(claimer),
				TotalAmount: uint64(tmpChain.TotalAmount),
			}
			if err := ls.appendJournal(txn, ChainCompletedEventType, now.Unix(), &doneEvt); err != nil {
				return err
			}
			events = append(
				events,
				pendingEvent{Type: ChainCompletedEventType, Payload: &doneEvt},
			)
		}
		ret = ClaimOutcome{
			Target:         target,
			Attempt:        step.ClaimAttempts,
			Distance:       result.Distance,
			Amount:         uint64(step.Amount),
			Fee:            res.Fee,
			Payout:         res.Payout,
			Relayed:        relay != nil,
			ChainCompleted: chainCompleted,
		}
		if step.HasRewardContent {
			content, err := ls.db.GetChainStepReward(chainID, stepIndex, txn)
			if err != nil {
				return err
			}
			ret.RewardContent = content
			ret.RewardContentType = step.RewardContentType
		}
		ls.metrics.valueLocked.Set(float64(res.ValueLocked))
		ls.metrics.feesCollectedTotal.Add(float64(res.Fee))
		return nil
	})
	if err == nil {
		// The transaction committed; whatever it journaled goes to the bus
		// even when the verification itself failed
		ls.publishEvents(events)
		err = claimErr
	}
	ls.recordClaimMetrics("step", relay != nil, err)
	if err != nil {
		return ClaimOutcome{}, err
	}
	ls.config.Logger.Info(
		fmt.Sprintf(
			"chain %s step %d completed by %s: fee %d, payout %d",
			chainID,
			stepIndex,
			claimer,
			ret.Fee,
			ret.Payout,
		),
		"component",
		"ledger",
	)
	return ret, nil
}

// RefundChain returns an expired chain's uncompleted step amounts to its
// creator. Completed steps stay paid.
func (ls *LedgerState) RefundChain(
	ctx context.Context,
	caller string,
	chainID string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	creator, err := checkPrincipal(caller)
	if err != nil {
		return err
	}
	ls.Lock()
	defer ls.Unlock()
	return ls.refundChain(creator, chainID, RefundReasonExpiry)
}

// RecoverChain force-returns an unfinished chain's remaining amounts to its
// creator. Needs the emergency capability and works before expiry.
func (ls *LedgerState) RecoverChain(
	ctx context.Context,
	caller string,
	chainID string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := checkPrincipal(caller)
	if err != nil {
		return err
	}
	if !ls.config.Capabilities.Has(p, auth.CapabilityEmergency) {
		return fmt.Errorf(
			"%w: emergency capability required",
			ErrUnauthorizedCaller,
		)
	}
	ls.Lock()
	defer ls.Unlock()
	return ls.refundChain(p, chainID, RefundReasonEmergency)
}

func (ls *LedgerState) refundChain(
	caller auth.Principal,
	chainID string,
	reason string,
) error {
	now := ls.now()
	var events []pendingEvent
	var lockedAfter uint64
	var refunded uint64
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		tmpChain, err := ls.db.GetChain(chainID, txn)
		if err != nil {
			return err
		}
		if tmpChain == nil {
			return ErrNotFound
		}
		switch tmpChain.Status {
		case models.StatusActive:
		case models.StatusCompleted:
			return ErrAlreadyClaimed
		default:
			return ErrAlreadyRefunded
		}
		if reason == RefundReasonExpiry {
			if auth.Principal(tmpChain.Creator) != caller {
				return ErrUnauthorizedCaller
			}
			if !tmpChain.ExpiredAt(now.Unix()) {
				return InvalidParametersError{
					Field:  "expires_at",
					Reason: "chain has not expired",
				}
			}
			tmpChain.Status = models.StatusRefunded
		} else {
			tmpChain.Status = models.StatusRecovered
		}
		tmpChain.RefundedAt = now.Unix()
		steps, err := ls.db.GetChainSteps(chainID, txn)
		if err != nil {
			return err
		}
		refunded = 0
		for _, step := range steps {
			if !step.Completed {
				refunded += uint64(step.Amount)
			}
		}
		locked, err := ls.refundValue(
			txn,
			auth.Principal(tmpChain.Creator),
			refunded,
		)
		if err != nil {
			return err
		}
		lockedAfter = locked
		if err := ls.db.SetChain(tmpChain, txn); err != nil {
			return err
		}
		evt := ChainRefundedEvent{
			ChainID:  chainID,
			Creator:  tmpChain.Creator,
			Refunded: refunded,
			Reason:   reason,
		}
		if err := ls.appendJournal(txn, ChainRefundedEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: ChainRefundedEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return err
	}
	ls.metrics.refundsTotal.WithLabelValues("chain", reason).Inc()
	ls.metrics.valueLocked.Set(float64(lockedAfter))
	ls.publishEvents(events)
	ls.config.Logger.Info(
		fmt.Sprintf(
			"chain %s refunded (%s): %d units returned",
			chainID,
			reason,
			refunded,
		),
		"component",
		"ledger",
	)
	return nil
}
