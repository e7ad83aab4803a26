package pebble

import (
	"encoding/binary"
	"net/url"
	"time"

	"github.com/syntrixbase/searchindexer/internal/events"
)

// Key prefixes.
const (
	prefixEvent = "ev/"      // Event records: ev/{id} → record
	prefixState = "st/"      // State index: st/{state}/{ts}{seq}/{id} → empty
	keySeq      = "meta/seq" // Last assigned insertion sequence
)

func eventKey(id events.EventID) []byte {
	enc := url.PathEscape(string(id))
	key := make([]byte, 0, len(prefixEvent)+len(enc))
	key = append(key, prefixEvent...)
	key = append(key, enc...)
	return key
}

// stateKeyPrefix returns st/{state}/.
func stateKeyPrefix(state events.ProcessingState) []byte {
	key := make([]byte, 0, len(prefixState)+len(state)+1)
	key = append(key, prefixState...)
	key = append(key, state...)
	key = append(key, '/')
	return key
}

// stateKey orders entries by event time, then insertion sequence.
func stateKey(state events.ProcessingState, ts time.Time, seq uint64, id events.EventID) []byte {
	key := stateKeyPrefix(state)
	key = binary.BigEndian.AppendUint64(key, sortableNanos(ts))
	key = binary.BigEndian.AppendUint64(key, seq)
	key = append(key, '/')
	key = append(key, url.PathEscape(string(id))...)
	return key
}

func decodePathComponent(s string) (string, error) {
	return url.PathUnescape(s)
}

// sortableNanos flips the sign bit so negative times sort before positive.
func sortableNanos(ts time.Time) uint64 {
	return uint64(ts.UnixNano()) ^ (1 << 63)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
