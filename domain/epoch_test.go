package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpoch_Covers(t *testing.T) {
	startedAt := time.Unix(100, 0)

	tests := []struct {
		name  string
		epoch *Epoch
		t     time.Time
		want  bool
	}{
		{"no epoch", nil, time.Unix(90, 0), false},
		{"modified before cutoff", &Epoch{StartedAt: startedAt}, time.Unix(90, 0), true},
		{"modified at cutoff", &Epoch{StartedAt: startedAt}, time.Unix(100, 0), false},
		{"modified after cutoff", &Epoch{StartedAt: startedAt}, time.Unix(101, 0), false},
		{"zero time is always before", &Epoch{StartedAt: startedAt}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.epoch.Covers(tt.t))
		})
	}
}

func TestEpoch_Keys(t *testing.T) {
	assert.Equal(t, "reindex:widgets", EpochKey("widgets"))
	assert.Equal(t, "reindex:widgets:target", EpochTargetKey("widgets"))
	assert.Equal(t, "reindex-lock:widgets", ReindexLockKey("widgets"))
	assert.Equal(t, "widgets_temp_123000", TempIndexName("widgets", time.Unix(123, 0)))
	assert.NotEqual(t,
		TempIndexName("widgets", time.UnixMilli(1767225600000)),
		TempIndexName("widgets", time.UnixMilli(1767225600400)),
		"rebuilds started within the same second get distinct temp indexes")

	index, ok := IndexFromEpochKey("reindex:widgets")
	assert.True(t, ok)
	assert.Equal(t, "widgets", index)

	_, ok = IndexFromEpochKey("other:widgets")
	assert.False(t, ok)
}

func TestEpoch_Provisioned(t *testing.T) {
	var nilEpoch *Epoch
	assert.False(t, nilEpoch.Provisioned())
	assert.False(t, (&Epoch{LogicalIndex: "w"}).Provisioned())
	assert.True(t, (&Epoch{LogicalIndex: "w", TargetIndex: "w_temp_1"}).Provisioned())
}
