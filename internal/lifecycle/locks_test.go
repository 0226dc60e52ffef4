package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityLocks_SerializesSameEntity(t *testing.T) {
	locks := newEntityLocks()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("violation-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestEntityLocks_UnlockReleases(t *testing.T) {
	locks := newEntityLocks()

	unlock := locks.lock("violation-1")
	unlock()

	// 释放后可再次获取
	unlock = locks.lock("violation-1")
	unlock()
}
