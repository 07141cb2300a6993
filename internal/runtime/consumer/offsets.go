package consumer

import (
	"sort"
	"sync"
)

// PartitionOffset is the last committed offset of one topic partition.
type PartitionOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

type topicPartition struct {
	topic     string
	partition int32
}

// OffsetTracker remembers committed offsets. Offsets only move forward.
type OffsetTracker struct {
	mu      sync.RWMutex
	offsets map[topicPartition]int64
}

func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{offsets: make(map[topicPartition]int64)}
}

// Advance records offset for the partition and reports whether it moved.
// Offsets at or below the current value, and negative offsets, are ignored.
func (t *OffsetTracker) Advance(topic string, partition int32, offset int64) bool {
	if offset < 0 {
		return false
	}
	key := topicPartition{topic: topic, partition: partition}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.offsets[key]; ok && offset <= cur {
		return false
	}
	t.offsets[key] = offset
	return true
}

// Get returns the committed offset for the partition.
func (t *OffsetTracker) Get(topic string, partition int32) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	off, ok := t.offsets[topicPartition{topic: topic, partition: partition}]
	return off, ok
}

// Snapshot returns every tracked partition sorted by topic then partition.
func (t *OffsetTracker) Snapshot() []PartitionOffset {
	t.mu.RLock()
	out := make([]PartitionOffset, 0, len(t.offsets))
	for k, v := range t.offsets {
		out = append(out, PartitionOffset{Topic: k.topic, Partition: k.partition, Offset: v})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}
