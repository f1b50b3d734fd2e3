/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// contentHash hashes a manifest's raw bytes so the reconciler can tell an unchanged
// manifest from a changed one without re-parsing and deep-comparing every field.
func contentHash(raw []byte) string {
	return fmt.Sprintf("%x", xxhash.Sum64(raw))
}
