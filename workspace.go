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

// Package workspace defines global constants shared across the workspace
// packages.
package workspace

const (
	// ComponentKey is the attribute key under which loggers report the
	// component that emitted a log line.
	ComponentKey = "component"

	// ComponentSharing is the sharing orchestrator.
	ComponentSharing = "sharing"

	// ComponentHierarchy is the document hierarchy service.
	ComponentHierarchy = "hierarchy"

	// ComponentBackend is the storage backend layer.
	ComponentBackend = "backend"

	// ComponentJanitor is the background invitation cleanup loop.
	ComponentJanitor = "janitor"
)
