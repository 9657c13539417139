/*
 * Workspace
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package backend

import (
	"errors"

	"github.com/gravitational/trace"
)

// MaxAtomicWriteSize is the maximum number of conditional actions a single
// AtomicWrite accepts.
const MaxAtomicWriteSize = 64

// ErrConditionFailed is returned from AtomicWrite when one of the
// conditions did not hold at commit time. Callers translate it to a
// conflict error appropriate for their operation.
var ErrConditionFailed = errors.New("condition failed")

// ConditionKind marks the condition variant of a ConditionalAction.
type ConditionKind int

const (
	// KindWhatever asserts nothing about the key.
	KindWhatever ConditionKind = iota + 1
	// KindExists asserts that an item is stored under the key.
	KindExists
	// KindNotExists asserts that no item is stored under the key.
	KindNotExists
	// KindRevision asserts that the stored item carries the expected
	// revision.
	KindRevision
)

// ActionKind marks the action variant of a ConditionalAction.
type ActionKind int

const (
	// KindNop applies no change. Used to assert a condition on a key the
	// write does not modify.
	KindNop ActionKind = iota + 1
	// KindPut stores the provided item under the key.
	KindPut
	// KindDelete removes the item under the key, if any.
	KindDelete
)

// Condition asserts a property of a key at commit time.
type Condition struct {
	// Kind is the condition variant.
	Kind ConditionKind
	// Revision is the expected revision for KindRevision conditions.
	Revision string
}

// Whatever builds a condition that always holds.
func Whatever() Condition {
	return Condition{Kind: KindWhatever}
}

// Exists builds a condition asserting the key is present.
func Exists() Condition {
	return Condition{Kind: KindExists}
}

// NotExists builds a condition asserting the key is absent.
func NotExists() Condition {
	return Condition{Kind: KindNotExists}
}

// Revision builds a condition asserting the stored revision.
func Revision(rev string) Condition {
	return Condition{Kind: KindRevision, Revision: rev}
}

// Action is the change applied to a key when all conditions hold.
type Action struct {
	// Kind is the action variant.
	Kind ActionKind
	// Item is the item stored by KindPut actions.
	Item Item
}

// Nop builds an action that changes nothing.
func Nop() Action {
	return Action{Kind: KindNop}
}

// Put builds an action storing the item. The item key is taken from the
// enclosing ConditionalAction.
func Put(item Item) Action {
	return Action{Kind: KindPut, Item: item}
}

// Delete builds an action removing the key.
func Delete() Action {
	return Action{Kind: KindDelete}
}

// ConditionalAction is one key of an AtomicWrite: a condition that must
// hold and the action applied when the whole write commits.
type ConditionalAction struct {
	// Key is the key the condition and action refer to.
	Key Key
	// Condition must hold at commit time for the write to be applied.
	Condition Condition
	// Action is applied when every condition of the write holds.
	Action Action
}

// ValidateAtomicWrite rejects malformed condact lists before they reach a
// backend: empty or oversized writes, duplicate keys, and unknown kinds.
func ValidateAtomicWrite(condacts []ConditionalAction) error {
	if len(condacts) == 0 {
		return trace.BadParameter("empty atomic write")
	}
	if len(condacts) > MaxAtomicWriteSize {
		return trace.BadParameter("atomic write of %d conditional actions exceeds maximum size %d", len(condacts), MaxAtomicWriteSize)
	}
	seen := make(map[string]struct{}, len(condacts))
	for _, ca := range condacts {
		if ca.Key.IsZero() {
			return trace.BadParameter("conditional action missing key")
		}
		if _, ok := seen[ca.Key.String()]; ok {
			return trace.BadParameter("multiple conditional actions against key %q", ca.Key)
		}
		seen[ca.Key.String()] = struct{}{}

		switch ca.Condition.Kind {
		case KindWhatever, KindExists, KindNotExists:
		case KindRevision:
			if ca.Condition.Revision == "" {
				return trace.BadParameter("revision condition against key %q missing revision", ca.Key)
			}
		default:
			return trace.BadParameter("unexpected condition kind %v against key %q", ca.Condition.Kind, ca.Key)
		}

		switch ca.Action.Kind {
		case KindNop, KindPut, KindDelete:
		default:
			return trace.BadParameter("unexpected action kind %v against key %q", ca.Action.Kind, ca.Key)
		}
	}
	return nil
}
