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
	"strings"
)

// Separator joins key components.
const Separator = "/"

// Key is an ordered backend key built from path-like components.
type Key struct {
	s string
}

// NewKey builds a key from components: NewKey("documents", id) maps to
// "/documents/<id>".
func NewKey(components ...string) Key {
	return Key{s: Separator + strings.Join(components, Separator)}
}

// KeyFromString rebuilds a key from its flat representation. Used by
// backends that persist the flat form.
func KeyFromString(s string) Key {
	return Key{s: s}
}

// ExactKey builds the prefix key covering everything stored under the given
// components: NewKey plus a trailing separator.
func ExactKey(components ...string) Key {
	return Key{s: NewKey(components...).s + Separator}
}

// RangeEnd returns the first key after every key prefixed by k, so that
// [k, RangeEnd(k)) covers exactly the keys under the prefix.
func RangeEnd(k Key) Key {
	if k.s == "" {
		return k
	}
	end := []byte(k.s)
	end[len(end)-1]++
	return Key{s: string(end)}
}

// String returns the flat representation of the key.
func (k Key) String() string {
	return k.s
}

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool {
	return k.s == ""
}

// Compare orders keys lexicographically.
func (k Key) Compare(other Key) int {
	return strings.Compare(k.s, other.s)
}

// HasPrefix reports whether the key lies under the given prefix key.
func (k Key) HasPrefix(prefix Key) bool {
	return strings.HasPrefix(k.s, prefix.s)
}

// TrailingComponent returns the last component of the key. Services store
// records under constant prefixes plus an identifier; this recovers the
// identifier.
func (k Key) TrailingComponent() string {
	idx := strings.LastIndex(k.s, Separator)
	if idx < 0 {
		return k.s
	}
	return k.s[idx+len(Separator):]
}
