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

package sharing

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace"
)

// RunInvitationJanitor periodically collects expired invitations until the
// context is done. The sweep is idempotent and safe to run concurrently
// with itself, so multiple instances may run it without coordination.
func (s *Service) RunInvitationJanitor(ctx context.Context) error {
	logger := slog.With(workspace.ComponentKey, workspace.ComponentJanitor)
	ticker := s.cfg.Clock.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		case <-ticker.Chan():
			deleted, err := s.cfg.Invitations.DeleteExpiredInvitations(ctx)
			if err != nil {
				logger.WarnContext(ctx, "failed to collect expired invitations", "error", err)
				continue
			}
			if deleted > 0 {
				logger.InfoContext(ctx, "collected expired invitations", "count", deleted)
			}
		}
	}
}
