package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// ShardOf buckets a user into one of shardCount shards with FNV-1a
func ShardOf(userID uuid.UUID, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	return int(h.Sum32() % uint32(shardCount))
}

// SlotIndex is the shard served at now. The whole population rotates through
// once every shardCount*slotLength.
func SlotIndex(now time.Time, slotLength time.Duration, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	seconds := int64(slotLength / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return int((now.Unix() / seconds) % int64(shardCount))
}

// TickSlotIndex is the shard for a sweep fired on a slot boundary. It rounds to the
// nearest boundary, so a tick a little early or late keeps its slot and none is skipped.
func TickSlotIndex(tick time.Time, slotLength time.Duration, shardCount int) int {
	return SlotIndex(tick.Add(slotLength/2), slotLength, shardCount)
}
