package service

import (
	"crypto/sha1"
	"encoding/binary"
	"sync"
)

const lockShards = 64

// roomLocks serializes membership mutations per room. Rooms hash onto a
// fixed set of mutexes; two rooms sharing a shard just queue behind each other.
type roomLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *roomLocks) lock(roomID string) func() {
	mu := &l.shards[lockShard(roomID)]
	mu.Lock()
	return mu.Unlock
}

func lockShard(roomID string) uint32 {
	if roomID == "" {
		return 0
	}

	h := sha1.Sum([]byte(roomID))
	return binary.BigEndian.Uint32(h[:4]) % lockShards
}
