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

package services

import (
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace/api/types"
)

// MarshalConfig collects marshal/unmarshal options.
type MarshalConfig struct {
	// Revision is the backend revision to set on the unmarshaled resource.
	Revision string
}

// MarshalOption sets one marshal/unmarshal option.
type MarshalOption func(*MarshalConfig)

// WithRevision sets the backend revision on the unmarshaled resource.
func WithRevision(rev string) MarshalOption {
	return func(c *MarshalConfig) {
		c.Revision = rev
	}
}

func collectOptions(opts []MarshalOption) MarshalConfig {
	var cfg MarshalConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// MarshalDocument encodes a document for storage.
func MarshalDocument(doc *types.Document) ([]byte, error) {
	if err := doc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(doc)
	return data, trace.Wrap(err)
}

// UnmarshalDocument decodes a stored document.
func UnmarshalDocument(data []byte, opts ...MarshalOption) (*types.Document, error) {
	cfg := collectOptions(opts)
	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := doc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	doc.Revision = cfg.Revision
	return &doc, nil
}

// MarshalGrant encodes a permission grant for storage.
func MarshalGrant(grant *types.PermissionGrant) ([]byte, error) {
	if err := grant.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(grant)
	return data, trace.Wrap(err)
}

// UnmarshalGrant decodes a stored permission grant.
func UnmarshalGrant(data []byte, opts ...MarshalOption) (*types.PermissionGrant, error) {
	cfg := collectOptions(opts)
	var grant types.PermissionGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := grant.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	grant.Revision = cfg.Revision
	return &grant, nil
}

// MarshalInvitation encodes an invitation for storage.
func MarshalInvitation(inv *types.Invitation) ([]byte, error) {
	if err := inv.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(inv)
	return data, trace.Wrap(err)
}

// UnmarshalInvitation decodes a stored invitation.
func UnmarshalInvitation(data []byte, opts ...MarshalOption) (*types.Invitation, error) {
	cfg := collectOptions(opts)
	var inv types.Invitation
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := inv.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	inv.Revision = cfg.Revision
	return &inv, nil
}

// MarshalUser encodes a user record for storage.
func MarshalUser(user *types.User) ([]byte, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(user)
	return data, trace.Wrap(err)
}

// UnmarshalUser decodes a stored user record.
func UnmarshalUser(data []byte, opts ...MarshalOption) (*types.User, error) {
	var user types.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}
