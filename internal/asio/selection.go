/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package asio

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// selectionSessionID binds a device identity to a specific enumeration snapshot: a
// stable hash of (salt, normalized device id, lowercased name). Two ListDevices calls
// separated by a driver list change produce different ids for the same physical
// device id string, so a stale GetDeviceCaps/Open naming the old id is refused rather
// than silently opening a different device.
func selectionSessionID(salt, deviceID, name string) uint64 {
	normalized := strings.ToLower(strings.TrimSpace(deviceID))
	loweredName := strings.ToLower(strings.TrimSpace(name))
	return xxhash.Sum64String(salt + "|" + normalized + "|" + loweredName)
}
