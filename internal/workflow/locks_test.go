package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("user")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size(), "entries are released after the last unlock")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, k.size())
	unlockA()
	assert.Zero(t, k.size())
}

func TestError_IsMatchesKind(t *testing.T) {
	err := newError(KindClassification, "advance", "u1", "classify reply", assert.AnError)
	assert.ErrorIs(t, err, ErrClassification)
	assert.NotErrorIs(t, err, ErrResponder)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "advance: classification: classify reply: "+assert.AnError.Error(), err.Error())
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
}
