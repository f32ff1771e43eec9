package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// snapshot is the sessions bucket. Every write carries the whole store, so
// one snapshot is complete on its own: an id missing from the newest
// snapshot was deleted. Seq orders snapshots left in different backends.
type snapshot struct {
	Seq            int64            `json:"seq"`
	Sessions       []models.Session `json:"sessions"`
	PendingDeletes []string         `json:"pendingDeletes,omitempty"`
}

// decodeSnapshot reads a sessions bucket. A bare JSON array is the older
// layout and sorts before any sequenced snapshot.
func decodeSnapshot(blob []byte) (snapshot, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sessions []models.Session
		if err := json.Unmarshal(trimmed, &sessions); err != nil {
			return snapshot{}, fmt.Errorf("decode sessions: %w", err)
		}
		return snapshot{Sessions: sessions}, nil
	}

	var snap snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode sessions: %w", err)
	}
	return snap, nil
}

// latestSnapshot picks the snapshot with the highest Seq. Blobs are given
// active backend first, so the earlier blob wins a tie. Unreadable blobs
// are reported through skip and ignored.
func latestSnapshot(blobs [][]byte, skip func(error)) (snapshot, bool) {
	var (
		best  snapshot
		found bool
	)
	for _, blob := range blobs {
		snap, err := decodeSnapshot(blob)
		if err != nil {
			skip(err)
			continue
		}
		if !found || snap.Seq > best.Seq {
			best, found = snap, true
		}
	}
	return best, found
}
