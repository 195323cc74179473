package store

import (
	"fmt"
	"strings"
)

// Key layout (all values are JSON documents):
//
//	chat:<threadID>:meta                 thread metadata
//	chat:<threadID>:msg:<ts20>-<msgID>   message, sortable by created-at
//	chat:<threadID>:id:<msgID>           message id -> document key index
//	report:<threadID>:<reportID>         moderation report
//
// The timestamp is zero-padded so lexicographic key order matches
// chronological order within a thread.

func threadMetaKey(threadID string) []byte {
	return []byte("chat:" + threadID + ":meta")
}

func msgKey(threadID string, ts int64, msgID string) []byte {
	return []byte(fmt.Sprintf("chat:%s:msg:%020d-%s", threadID, ts, msgID))
}

func msgPrefix(threadID string) []byte {
	return []byte("chat:" + threadID + ":msg:")
}

func msgIdxKey(threadID, msgID string) []byte {
	return []byte("chat:" + threadID + ":id:" + msgID)
}

func msgIdxPrefix(threadID string) []byte {
	return []byte("chat:" + threadID + ":id:")
}

func reportKey(threadID, reportID string) []byte {
	return []byte("report:" + threadID + ":" + reportID)
}

func reportPrefix(threadID string) []byte {
	return []byte("report:" + threadID + ":")
}

func userThreadPrefix(userID string) []byte {
	return []byte("chat:" + userID + "_")
}

// threadIDFromMsgKey extracts the thread id from a message document key, or
// "" when the key is not a message key.
func threadIDFromMsgKey(key string) string {
	rest, ok := strings.CutPrefix(key, "chat:")
	if !ok {
		return ""
	}
	tid, _, ok := strings.Cut(rest, ":msg:")
	if !ok {
		return ""
	}
	return tid
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}
