// Copyright 2026 Blink Labs Software
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

package vault

import "fmt"

// ErrorKind is the closed taxonomy of engine errors. It replaces
// exceptions-as-control-flow: callers match on Kind rather than catching.
type ErrorKind string

const (
	// KindInputValidation covers bad percentages, negative amounts, or an
	// unknown vault. Surfaced directly to the caller.
	KindInputValidation ErrorKind = "InputValidation"
	// KindInsufficientUtxos is local to a tick: it halts that vault and
	// yields to the next tick. Never marks a claim Failed.
	KindInsufficientUtxos ErrorKind = "InsufficientUtxos"
	// KindSizeOverflow is builder-reported or measured; triggers batch
	// shrinking. Persistent at batch size 1 at the Update stage is fatal.
	KindSizeOverflow ErrorKind = "SizeOverflow"
	// KindInputConsumedElsewhere marks the owning claim Failed with the
	// consuming tx hash attached.
	KindInputConsumedElsewhere ErrorKind = "InputConsumedElsewhere"
	// KindBuildFailure is transient unless it persists at batch size 1,
	// in which case the owning claim is marked Failed.
	KindBuildFailure ErrorKind = "BuildFailure"
	// KindSubmitFailure is not fatal: the next tick reconciles by
	// re-reading on-chain state.
	KindSubmitFailure ErrorKind = "SubmitFailure"
	// KindConfirmationTimeout is not fatal, for the same reason.
	KindConfirmationTimeout ErrorKind = "ConfirmationTimeout"
	// KindBlockchainUnavailable aborts the entire tick with no state
	// mutations.
	KindBlockchainUnavailable ErrorKind = "BlockchainUnavailable"
)

// Error is the engine's single error type. Kind drives control flow;
// Err, if set, is the wrapped underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is enables errors.Is(err, &Error{Kind: KindX}) style matching on Kind
// alone, ignoring Message/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError constructs an *Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// IsRetryable reports whether the tick should simply defer to the next
// cycle without mutating claim or vault state, per the §7 propagation
// policy for InsufficientUtxos/SubmitFailure/ConfirmationTimeout and the
// tick-wide abort for BlockchainUnavailable.
func IsRetryable(err error) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	switch e.Kind {
	case KindInsufficientUtxos, KindSubmitFailure, KindConfirmationTimeout,
		KindBlockchainUnavailable:
		return true
	default:
		return false
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
