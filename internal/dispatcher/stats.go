package dispatcher

import (
	"fmt"
	"strings"

	"github.com/calvinalkan/kvcore/internal/engine"
)

// encodeStats renders engine.Stats as UTF-8 "key=value" lines separated
// by "\n", per spec.md §6.2's Stats response payload.
func encodeStats(s engine.Stats) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "key_count=%d\n", s.KeyCount)
	fmt.Fprintf(&b, "wal_bytes=%d\n", s.WALBytes)
	fmt.Fprintf(&b, "next_sequence=%d\n", s.NextSequence)

	return []byte(b.String())
}
