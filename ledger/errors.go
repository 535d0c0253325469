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
	"errors"
	"fmt"
)

// Operation errors. Callers match with errors.Is; the typed variants below
// unwrap to these and carry the machine-readable detail.
var (
	// ErrInvalidParameters rejects malformed or out-of-bounds inputs
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrInsufficientAmount rejects a zero amount or a balance too small to
	// cover it
	ErrInsufficientAmount = errors.New("insufficient amount")
	// ErrNotFound reports an unknown gift, chain, or step
	ErrNotFound = errors.New("not found")
	// ErrAlreadyClaimed blocks operations on settled escrows
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrAlreadyRefunded blocks operations on refunded or recovered escrows
	ErrAlreadyRefunded = errors.New("already refunded")
	// ErrExpired blocks claims after the expiry time
	ErrExpired = errors.New("expired")
	// ErrUnauthorizedCaller reports a caller without the right to perform
	// the operation
	ErrUnauthorizedCaller = errors.New("unauthorized caller")
	// ErrVerificationFailed reports a claim whose proof did not satisfy the
	// challenge; attempt bookkeeping persists
	ErrVerificationFailed = errors.New("verification failed")
	// ErrStepNotUnlocked blocks a step claimed ahead of its turn
	ErrStepNotUnlocked = errors.New("step not unlocked")
	// ErrStepAlreadyCompleted blocks a step claimed behind the current one
	ErrStepAlreadyCompleted = errors.New("step already completed")
	// ErrInvalidNonce rejects a relay authorization whose nonce does not
	// match the stored counter
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrTransferFailed reports a settlement that could not move value;
	// the whole operation rolls back
	ErrTransferFailed = errors.New("transfer failed")
)

// InvalidParametersError names the offending field
type InvalidParametersError struct {
	Field  string
	Reason string
}

func (e InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters: %s: %s", e.Field, e.Reason)
}

func (e InvalidParametersError) Unwrap() error {
	return ErrInvalidParameters
}

// InsufficientAmountError carries the shortfall
type InsufficientAmountError struct {
	Have uint64
	Need uint64
}

func (e InsufficientAmountError) Error() string {
	return fmt.Sprintf(
		"insufficient amount: have %d, need %d",
		e.Have,
		e.Need,
	)
}

func (e InsufficientAmountError) Unwrap() error {
	return ErrInsufficientAmount
}

// VerificationFailedError carries the failed check and, for location
// challenges, the measured distance in meters (-1 otherwise)
type VerificationFailedError struct {
	Reason   string
	Distance int64
}

func (e VerificationFailedError) Error() string {
	if e.Distance >= 0 {
		return fmt.Sprintf(
			"verification failed: %s (distance %dm)",
			e.Reason,
			e.Distance,
		)
	}
	return "verification failed: " + e.Reason
}

func (e VerificationFailedError) Unwrap() error {
	return ErrVerificationFailed
}

// StepNotUnlockedError carries the ordering violation
type StepNotUnlockedError struct {
	Current   uint32
	Requested uint32
}

func (e StepNotUnlockedError) Error() string {
	return fmt.Sprintf(
		"step not unlocked: step %d requested, step %d is current",
		e.Requested,
		e.Current,
	)
}

func (e StepNotUnlockedError) Unwrap() error {
	return ErrStepNotUnlocked
}

// InvalidNonceError carries the rejected nonce. The expected value is never
// disclosed; the recipient learns it by querying their own target.
type InvalidNonceError struct {
	Got uint64
}

func (e InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid nonce: %d", e.Got)
}

func (e InvalidNonceError) Unwrap() error {
	return ErrInvalidNonce
}

// ErrorCode returns the stable machine-readable code for a ledger error, or
// an empty string for errors outside the taxonomy
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrInsufficientAmount):
		return "insufficient_amount"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrAlreadyRefunded):
		return "already_refunded"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnauthorizedCaller):
		return "unauthorized_caller"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrStepNotUnlocked):
		return "step_not_unlocked"
	case errors.Is(err, ErrStepAlreadyCompleted):
		return "step_already_completed"
	case errors.Is(err, ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return ""
	}
}
