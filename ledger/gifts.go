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
	"errors"
	"fmt"
	"time"

	"github.com/cachet-io/cachet/auth"
	"github.com/cachet-io/cachet/database"
	"github.com/cachet-io/cachet/database/models"
	"github.com/cachet-io/cachet/database/types"
	"github.com/cachet-io/cachet/geo"
	"github.com/cachet-io/cachet/unlock"
)

// CreateGiftParams carries the creator's inputs for a new gift. Challenge
// fields follow the unlock type: location variants use the target coordinate
// and radius, answer variants the answer digest.
type CreateGiftParams struct {
	Recipient           string
	Amount              uint64
	UnlockType          unlock.Type
	TargetLat           int64
	TargetLon           int64
	Radius              uint32
	AnswerDigest        []byte
	AttestationRequired bool
	Title               string
	Message             string
	ClueText            string
	ExpiresAt           int64
}

// ClaimOutcome reports a settled claim. The reward fields are populated for
// chain steps that carry reveal content.
type ClaimOutcome struct {
	Target            auth.ClaimTarget
	Attempt           uint64
	Distance          int64
	Amount            uint64
	Fee               uint64
	Payout            uint64
	Relayed           bool
	ChainCompleted    bool
	RewardContent     []byte
	RewardContentType string
}

// relayGrant carries a recipient-signed mandate alongside a relayed claim
type relayGrant struct {
	Nonce     uint64
	Signature string
}

// giftUnlockTypeAllowed limits standalone gifts to the verification-backed
// unlock variants. The content-reveal variants only make sense as chain
// steps.
func giftUnlockTypeAllowed(t unlock.Type) bool {
	switch t {
	case unlock.TypeLocation,
		unlock.TypePassword,
		unlock.TypeQuiz,
		unlock.TypeSignature:
		return true
	}
	return false
}

func checkMetadata(title string, message string, clue string) error {
	if len(title) > MaxTitleBytes {
		return InvalidParametersError{
			Field:  "title",
			Reason: fmt.Sprintf("exceeds %d bytes", MaxTitleBytes),
		}
	}
	if len(message) > MaxMessageBytes {
		return InvalidParametersError{
			Field:  "message",
			Reason: fmt.Sprintf("exceeds %d bytes", MaxMessageBytes),
		}
	}
	if len(clue) > MaxClueBytes {
		return InvalidParametersError{
			Field:  "clue_text",
			Reason: fmt.Sprintf("exceeds %d bytes", MaxClueBytes),
		}
	}
	return nil
}

func checkExpiry(now time.Time, expiresAt int64) error {
	earliest := now.Add(MinExpiryWindow).Unix()
	latest := now.Add(MaxExpiryWindow).Unix()
	if expiresAt < earliest || expiresAt > latest {
		return InvalidParametersError{
			Field: "expires_at",
			Reason: fmt.Sprintf(
				"outside window [%d, %d]",
				earliest,
				latest,
			),
		}
	}
	return nil
}

// CreateGift escrows a new gift: the amount moves from the creator's balance
// into custody and stays there until claim, refund, or recovery. Returns the
// assigned gift ID.
func (ls *LedgerState) CreateGift(
	ctx context.Context,
	caller string,
	params CreateGiftParams,
) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	creator, err := checkPrincipal(caller)
	if err != nil {
		return 0, err
	}
	recipient, err := checkPrincipal(params.Recipient)
	if err != nil {
		return 0, err
	}
	if recipient == creator {
		return 0, InvalidParametersError{
			Field:  "recipient",
			Reason: "must differ from creator",
		}
	}
	if params.Amount == 0 {
		return 0, InsufficientAmountError{Have: 0, Need: 1}
	}
	if !giftUnlockTypeAllowed(params.UnlockType) {
		return 0, InvalidParametersError{
			Field:  "unlock_type",
			Reason: fmt.Sprintf("%s not allowed for gifts", params.UnlockType),
		}
	}
	radius := params.Radius
	if params.UnlockType.RequiresLocation() && radius == 0 {
		radius = unlock.DefaultRadius
	}
	challenge := unlock.Challenge{
		Target: geo.Point{
			Latitude:  params.TargetLat,
			Longitude: params.TargetLon,
		},
		Radius:              radius,
		Digest:              params.AnswerDigest,
		AttestationRequired: params.AttestationRequired,
	}
	if err := challenge.Validate(params.UnlockType); err != nil {
		return 0, InvalidParametersError{
			Field:  "challenge",
			Reason: err.Error(),
		}
	}
	if err := checkMetadata(params.Title, params.Message, params.ClueText); err != nil {
		return 0, err
	}
	now := ls.now()
	if err := checkExpiry(now, params.ExpiresAt); err != nil {
		return 0, err
	}
	ls.Lock()
	defer ls.Unlock()
	var events []pendingEvent
	var giftID uint64
	var lockedAfter uint64
	txn := ls.db.Transaction(true)
	err = txn.Do(func(txn *database.Txn) error {
		if err := ls.debitBalance(txn, creator, params.Amount); err != nil {
			return err
		}
		locked, err := ls.lockValue(txn, params.Amount)
		if err != nil {
			return err
		}
		lockedAfter = locked
		feeBps, err := ls.currentFeeBps(txn)
		if err != nil {
			return err
		}
		gift := &models.Gift{
			Creator:             string(creator),
			Recipient:           string(recipient),
			Amount:              types.Uint64(params.Amount),
			FeeBps:              feeBps,
			UnlockType:          uint8(params.UnlockType),
			ChallengeDigest:     challenge.Digest,
			TargetLat:           params.TargetLat,
			TargetLon:           params.TargetLon,
			Radius:              radius,
			AttestationRequired: params.AttestationRequired,
			Title:               params.Title,
			Message:             params.Message,
			ClueText:            params.ClueText,
			Status:              models.StatusActive,
			ExpiresAt:           params.ExpiresAt,
			CreatedAt:           now.Unix(),
			LastAttemptDistance: -1,
		}
		if err := ls.db.SetGift(gift, txn); err != nil {
			return err
		}
		giftID = gift.ID
		evt := GiftCreatedEvent{
			GiftID:     gift.ID,
			Creator:    gift.Creator,
			Recipient:  gift.Recipient,
			Amount:     params.Amount,
			UnlockType: params.UnlockType.String(),
			ExpiresAt:  params.ExpiresAt,
		}
		if err := ls.appendJournal(txn, GiftCreatedEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: GiftCreatedEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	ls.metrics.giftsCreatedTotal.Inc()
	ls.metrics.valueLocked.Set(float64(lockedAfter))
	ls.publishEvents(events)
	ls.config.Logger.Info(
		fmt.Sprintf(
			"gift %d created: %d units held for %s",
			giftID,
			params.Amount,
			recipient,
		),
		"component",
		"ledger",
	)
	return giftID, nil
}

// ClaimGift settles a gift when the recipient's proof satisfies the
// challenge. Whatever the verification outcome, the attempt is counted and
// recorded; a failed verification commits that bookkeeping and nothing else.
func (ls *LedgerState) ClaimGift(
	ctx context.Context,
	caller string,
	giftID uint64,
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
	return ls.claimGift(claimer, giftID, proof, nil)
}

// RelayClaimGift settles a gift on the recipient's behalf under a signed
// claim mandate. The mandate binds the exact proof and the target's current
// nonce; the nonce is consumed once the mandate verifies, so a failed
// verification still invalidates every copy of the mandate.
func (ls *LedgerState) RelayClaimGift(
	ctx context.Context,
	caller string,
	giftID uint64,
	recipient string,
	proof unlock.Proof,
	nonce uint64,
	sig string,
) (ClaimOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ClaimOutcome{}, err
	}
	// The relay authenticates itself upstream; here it only needs to be a
	// well-formed principal. Authorization rides on the mandate.
	if _, err := checkPrincipal(caller); err != nil {
		return ClaimOutcome{}, err
	}
	claimer, err := checkPrincipal(recipient)
	if err != nil {
		return ClaimOutcome{}, err
	}
	ls.Lock()
	defer ls.Unlock()
	return ls.claimGift(
		claimer,
		giftID,
		proof,
		&relayGrant{Nonce: nonce, Signature: sig},
	)
}

// claimGift is the claim workhorse shared by the direct and relayed paths.
// Callers hold the state lock. On verification failure the transaction
// commits anyway: it carries only the attempt bookkeeping (and, for relays,
// the nonce consumption) at that point.
func (ls *LedgerState) claimGift(
	claimer auth.Principal,
	giftID uint64,
	proof unlock.Proof,
	relay *relayGrant,
) (ClaimOutcome, error) {
	now := ls.now()
	target := auth.GiftTarget(giftID)
	var ret ClaimOutcome
	var events []pendingEvent
	var claimErr error
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		gift, err := ls.db.GetGift(giftID, txn)
		if err != nil {
			return err
		}
		if gift == nil {
			return ErrNotFound
		}
		// Preconditions record nothing
		switch gift.Status {
		case models.StatusActive:
		case models.StatusClaimed:
			return ErrAlreadyClaimed
		default:
			return ErrAlreadyRefunded
		}
		if gift.ExpiredAt(now.Unix()) {
			return ErrExpired
		}
		if claimer != auth.Principal(gift.Recipient) {
			return ErrUnauthorizedCaller
		}
		if relay != nil {
			if err := ls.consumeNonce(txn, target, claimer, proof, relay); err != nil {
				return err
			}
		}
		// Verification
		challenge := unlock.Challenge{
			Target: geo.Point{
				Latitude:  gift.TargetLat,
				Longitude: gift.TargetLon,
			},
			Radius:              gift.Radius,
			Digest:              gift.ChallengeDigest,
			AttestationRequired: gift.AttestationRequired,
		}
		result, verifyErr := ls.verifier.Verify(
			target,
			unlock.Type(gift.UnlockType),
			challenge,
			proof,
			now,
		)
		if verifyErr != nil && !errors.Is(verifyErr, unlock.ErrNotSatisfied) {
			// A proof that never reached the check is caller error, not a
			// failed attempt
			return InvalidParametersError{
				Field:  "proof",
				Reason: verifyErr.Error(),
			}
		}
		// Attempt bookkeeping happens for success and failure alike
		gift.ClaimAttempts++
		gift.LastAttemptAt = now.Unix()
		gift.LastAttemptDistance = result.Distance
		outcome := models.AttemptOutcomeSuccess
		reason := ""
		if verifyErr != nil {
			outcome = models.AttemptOutcomeFailure
			reason = verifyErr.Error()
		}
		attempt := &models.Attempt{
			TargetKey: target.NonceKey(),
			Number:    gift.ClaimAttempts,
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
			Attempt:   gift.ClaimAttempts,
			Recipient: string(claimer),
			Outcome:   outcome,
			Reason:    reason,
			Distance:  result.Distance,
			Relayed:   relay != nil,
		}
		if err := ls.appendJournal(txn, GiftClaimAttemptEventType, now.Unix(), &attemptEvt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: GiftClaimAttemptEventType, Payload: &attemptEvt},
		)
		if verifyErr != nil {
			// Commit the bookkeeping, surface the failure
			if err := ls.db.SetGift(gift, txn); err != nil {
				return err
			}
			claimErr = VerificationFailedError{
				Reason:   verifyErr.Error(),
				Distance: result.Distance,
			}
			return nil
		}
		// Mark, then pay
		gift.Status = models.StatusClaimed
		gift.ClaimedAt = now.Unix()
		res, err := ls.settle(txn, claimer, uint64(gift.Amount), gift.FeeBps)
		if err != nil {
			return err
		}
		gift.SettledFee = types.Uint64(res.Fee)
		gift.SettledPayout = types.Uint64(res.Payout)
		if err := ls.db.SetGift(gift, txn); err != nil {
			return err
		}
		claimedEvt := GiftClaimedEvent{
			GiftID:    gift.ID,
			Recipient: string(claimer),
			Amount:    uint64(gift.Amount),
			Fee:       res.Fee,
			Payout:    res.Payout,
			Relayed:   relay != nil,
		}
		if err := ls.appendJournal(txn, GiftClaimedEventType, now.Unix(), &claimedEvt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: GiftClaimedEventType, Payload: &claimedEvt},
		)
		ret = ClaimOutcome{
			Target:   target,
			Attempt:  gift.ClaimAttempts,
			Distance: result.Distance,
			Amount:   uint64(gift.Amount),
			Fee:      res.Fee,
			Payout:   res.Payout,
			Relayed:  relay != nil,
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
	ls.recordClaimMetrics("gift", relay != nil, err)
	if err != nil {
		return ClaimOutcome{}, err
	}
	ls.config.Logger.Info(
		fmt.Sprintf(
			"gift %d claimed by %s: fee %d, payout %d",
			giftID,
			claimer,
			ret.Fee,
			ret.Payout,
		),
		"component",
		"ledger",
	)
	return ret, nil
}

// consumeNonce authorizes a relayed claim: the mandate signature must cover
// the exact target, recipient, proof, and current nonce, and the counter
// advances before the inner claim runs
func (ls *LedgerState) consumeNonce(
	txn *database.Txn,
	target auth.ClaimTarget,
	recipient auth.Principal,
	proof unlock.Proof,
	relay *relayGrant,
) error {
	if err := auth.VerifyClaimMandate(
		target,
		recipient,
		proof.Digest(),
		relay.Nonce,
		relay.Signature,
	); err != nil {
		return fmt.Errorf("%w: claim mandate: %w", ErrUnauthorizedCaller, err)
	}
	stored, err := ls.db.GetNonce(target.NonceKey(), txn)
	if err != nil {
		return err
	}
	if relay.Nonce != stored {
		return InvalidNonceError{Got: relay.Nonce}
	}
	return ls.db.SetNonce(target.NonceKey(), stored+1, txn)
}

func (ls *LedgerState) recordClaimMetrics(
	targetKind string,
	relayed bool,
	err error,
) {
	outcome := "success"
	if err != nil {
		outcome = ErrorCode(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	ls.metrics.claimsTotal.WithLabelValues(targetKind, outcome).Inc()
	if relayed {
		ls.metrics.relayClaimsTotal.WithLabelValues(outcome).Inc()
	}
}

// RefundGift returns an expired gift's amount to its creator
func (ls *LedgerState) RefundGift(
	ctx context.Context,
	caller string,
	giftID uint64,
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
	return ls.refundGift(creator, giftID, RefundReasonExpiry)
}

// RecoverGift force-returns an unclaimed gift's amount to its creator. Needs
// the emergency capability and works before expiry.
func (ls *LedgerState) RecoverGift(
	ctx context.Context,
	caller string,
	giftID uint64,
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
	return ls.refundGift(p, giftID, RefundReasonEmergency)
}

func (ls *LedgerState) refundGift(
	caller auth.Principal,
	giftID uint64,
	reason string,
) error {
	now := ls.now()
	var events []pendingEvent
	var lockedAfter uint64
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		gift, err := ls.db.GetGift(giftID, txn)
		if err != nil {
			return err
		}
		if gift == nil {
			return ErrNotFound
		}
		switch gift.Status {
		case models.StatusActive:
		case models.StatusClaimed:
			return ErrAlreadyClaimed
		default:
			return ErrAlreadyRefunded
		}
		if reason == RefundReasonExpiry {
			if auth.Principal(gift.Creator) != caller {
				return ErrUnauthorizedCaller
			}
			if !gift.ExpiredAt(now.Unix()) {
				return InvalidParametersError{
					Field:  "expires_at",
					Reason: "gift has not expired",
				}
			}
			gift.Status = models.StatusRefunded
		} else {
			gift.Status = models.StatusRecovered
		}
		gift.RefundedAt = now.Unix()
		locked, err := ls.refundValue(
			txn,
			auth.Principal(gift.Creator),
			uint64(gift.Amount),
		)
		if err != nil {
			return err
		}
		lockedAfter = locked
		if err := ls.db.SetGift(gift, txn); err != nil {
			return err
		}
		evt := GiftRefundedEvent{
			GiftID:  gift.ID,
			Creator: gift.Creator,
			Amount:  uint64(gift.Amount),
			Reason:  reason,
		}
		if err := ls.appendJournal(txn, GiftRefundedEventType, now.Unix(), &evt); err != nil {
			return err
		}
		events = append(
			events,
			pendingEvent{Type: GiftRefundedEventType, Payload: &evt},
		)
		return nil
	})
	if err != nil {
		return err
	}
	ls.metrics.refundsTotal.WithLabelValues("gift", reason).Inc()
	ls.metrics.valueLocked.Set(float64(lockedAfter))
	ls.publishEvents(events)
	ls.config.Logger.Info(
		fmt.Sprintf("gift %d refunded (%s)", giftID, reason),
		"component",
		"ledger",
	)
	return nil
}
