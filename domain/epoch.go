package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	epochKeyPrefix = "reindex:"
	lockKeyPrefix  = "reindex-lock:"
)

// EpochKey is the coordination-store key holding the rebuild start time of index.
func EpochKey(index string) string {
	return epochKeyPrefix + index
}

// EpochTargetKey holds the temp physical index of the rebuild in flight.
func EpochTargetKey(index string) string {
	return EpochKey(index) + ":target"
}

// IndexFromEpochKey reverses EpochKey.
func IndexFromEpochKey(key string) (string, bool) {
	if !strings.HasPrefix(key, epochKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, epochKeyPrefix), true
}

// ReindexLockKey is the single-flight token key for rebuilds of index.
func ReindexLockKey(index string) string {
	return lockKeyPrefix + index
}

// TempIndexName returns the physical name used while rebuilding logical.
// Millisecond resolution lets a rebuild be re-triggered right after an abort
// that kept its temp index.
func TempIndexName(logical string, startedAt time.Time) string {
	return fmt.Sprintf("%s_temp_%d", logical, startedAt.UnixMilli())
}

// Epoch marks a rebuild of LogicalIndex that started at StartedAt.
// TargetIndex is empty until the temp index has been provisioned.
type Epoch struct {
	LogicalIndex string
	StartedAt    time.Time
	TargetIndex  string
}

// Covers reports whether a record last modified at t is picked up by the
// rebuild this epoch describes, in which case a direct write is stale.
// A nil epoch covers nothing.
func (e *Epoch) Covers(t time.Time) bool {
	if e == nil {
		return false
	}
	return t.Before(e.StartedAt)
}

// Provisioned reports whether the temp index is known.
func (e *Epoch) Provisioned() bool {
	return e != nil && e.TargetIndex != ""
}
