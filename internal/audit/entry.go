// Package audit provides a tamper-evident decision log. Every grant,
// revoke, proxy decision, and execution appends a hash-chained entry to
// a local SQLite database that can be verified after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/bunrunner/bunrunner/internal/log"
	"github.com/bunrunner/bunrunner/internal/permission"
)

// EntryType identifies the kind of log entry.
type EntryType string

const (
	EntryGrant      EntryType = "grant"
	EntryRevoke     EntryType = "revoke"
	EntryClear      EntryType = "clear"
	EntryProxyAllow EntryType = "proxy_allow"
	EntryProxyDeny  EntryType = "proxy_deny"
	EntryExec       EntryType = "exec"
)

// FirstSequence is the sequence number of the first entry in a log.
// Sequences are 1-indexed to distinguish "no previous entry" (seq=0)
// from the first entry.
const FirstSequence uint64 = 1

// GrantData records a capability grant.
type GrantData struct {
	Capability permission.Capability `json:"capability"`
}

// RevokeData records a revoke attempt and whether anything matched.
type RevokeData struct {
	Capability permission.Capability `json:"capability"`
	Removed    bool                  `json:"removed"`
}

// ClearData records how many grants a clear removed.
type ClearData struct {
	Removed int `json:"removed"`
}

// ProxyDecisionData records one proxied request, allowed or denied.
type ProxyDecisionData struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Allowed    bool   `json:"allowed"`
	StatusCode int    `json:"status_code,omitempty"` // upstream status when forwarded
	RequestID  string `json:"request_id,omitempty"`  // denial record id when denied
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExecData records one code execution. The source itself is never
// logged, only its size.
type ExecData struct {
	Backend    string `json:"backend"`
	Bytes      int    `json:"bytes"`
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Entry represents a single hash-chained log entry.
type Entry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      EntryType `json:"type"`
	PrevHash  string    `json:"prev"`
	// Data must be JSON-serializable. Non-serializable values marshal
	// as null, which would collide in the hash.
	Data any    `json:"data"`
	Hash string `json:"hash"`
	// dataJSON stores the canonical JSON used for hashing, so
	// verification survives database round-trips where Data becomes
	// map[string]any.
	dataJSON []byte `json:"-"`
}

// NewEntry creates a new entry with computed hash.
func NewEntry(seq uint64, prevHash string, entryType EntryType, data any) *Entry {
	return newEntryWithTimestamp(seq, prevHash, entryType, data, time.Now().UTC())
}

// newEntryWithTimestamp creates an entry with a specific timestamp (for
// testing). Store.Append validates marshaling first, so a failure here
// is rare.
func newEntryWithTimestamp(seq uint64, prevHash string, entryType EntryType, data any, ts time.Time) *Entry {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		log.Warn("failed to marshal entry data", "type", entryType, "error", err)
		dataJSON = []byte("null")
	}
	e := &Entry{
		Sequence:  seq,
		Timestamp: ts,
		Type:      entryType,
		PrevHash:  prevHash,
		Data:      data,
		dataJSON:  dataJSON,
	}
	e.Hash = e.computeHash()
	return e
}

// computeHash calculates SHA-256(seq || ts || type || prev || data).
func (e *Entry) computeHash() string {
	h := sha256.New()

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, e.Sequence)
	h.Write(seqBytes)

	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.PrevHash))

	dataBytes := e.dataJSON
	if dataBytes == nil {
		var err error
		dataBytes, err = json.Marshal(e.Data)
		if err != nil {
			log.Warn("failed to marshal entry data for hash", "seq", e.Sequence, "error", err)
			dataBytes = []byte("null")
		}
	}
	h.Write(dataBytes)

	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks if the entry's hash is valid.
func (e *Entry) Verify() bool {
	return e.Hash == e.computeHash()
}
