package lifecycle

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// entityLocks 按实体ID分片的互斥锁
// 同一 violation/alert 的状态变更 + 事件发布在锁内完成，
// 保证同一实体的事件按因果序发布
type entityLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{}
}

func (l *entityLocks) lock(entityID string) func() {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
