// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a new client or device identifier.
func NewID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ParseID checks that s is an identifier produced by NewID.
func ParseID(s string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return ulid.ULID{}, oops.In("host").Code("invalid_id").With("id", s).Wrapf(err, "invalid id %q", s)
	}
	return id, nil
}

// InstanceKey returns the key of the instance of pluginID attached to targetID.
func InstanceKey(targetID, pluginID string) string {
	return targetID + "#" + pluginID
}
