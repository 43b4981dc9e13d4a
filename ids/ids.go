// Package ids mints the identifiers used across the pipeline: ULID entry
// ids, 32-character hex trace ids and run/message ids for the AG-UI stream.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewEntryID returns a lexicographically sortable 26-character entry
// identifier (ULID, Crockford base32).
func NewEntryID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewTraceID returns a random 32-character lowercase hex trace id.
func NewTraceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read on supported platforms never fails; fall back to a UUID.
		return NewRunID()
	}
	return hex.EncodeToString(b[:])
}

// EntryTraceID derives a stable trace id for an entry-scoped activity so
// repeated attempts for the same entry within a batch correlate to one trace.
// The id is sha256(entryID + ":" + batchTraceID) truncated to 32 hex chars.
func EntryTraceID(entryID, batchTraceID string) string {
	sum := sha256.Sum256([]byte(entryID + ":" + batchTraceID))
	return hex.EncodeToString(sum[:])[:32]
}

// NewRunID returns a UUID string without dashes, used for AG-UI run and
// message identifiers.
func NewRunID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
