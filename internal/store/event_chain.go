package store

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ChainRecord is the persisted form of one event together with its link in
// the tamper-evident hash chain.
type ChainRecord struct {
	Seq       int64
	EventID   string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
	PrevHash  string
	Hash      string
}

func ComputeEventHash(prevHash, eventID, eventType string, payload json.RawMessage, createdAt time.Time, seq int64) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, eventID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain checks that records (in sequence order) form an unbroken chain.
// It returns the sequence of the first broken link.
func VerifyChain(records []ChainRecord) (int64, error) {
	prev := ""
	var lastSeq int64
	for _, rec := range records {
		if rec.Seq <= lastSeq {
			return rec.Seq, fmt.Errorf("sequence %d out of order after %d", rec.Seq, lastSeq)
		}
		if rec.PrevHash != prev {
			return rec.Seq, fmt.Errorf("sequence %d: prev hash mismatch", rec.Seq)
		}
		want := ComputeEventHash(rec.PrevHash, rec.EventID, rec.Type, rec.Payload, rec.CreatedAt, rec.Seq)
		if rec.Hash != want {
			return rec.Seq, fmt.Errorf("sequence %d: hash mismatch", rec.Seq)
		}
		prev = rec.Hash
		lastSeq = rec.Seq
	}
	return 0, nil
}
