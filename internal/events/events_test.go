package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitter_Filter(t *testing.T) {
	e := New()
	var all, spent []Event
	e.Subscribe(nil, func(ev Event) { all = append(all, ev) })
	e.Subscribe([]Kind{KindSpentOutput}, func(ev Event) { spent = append(spent, ev) })

	e.Emit(1, NewOutput{})
	e.Emit(2, SpentOutput{})
	e.Emit(3, TransactionProgress{Progress: Broadcasting})

	assert.Len(t, all, 3)
	if assert.Len(t, spent, 1) {
		assert.Equal(t, uint32(2), spent[0].AccountIndex)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := New()
	n := 0
	id := e.Subscribe(nil, func(Event) { n++ })
	e.Emit(0, ConsolidationRequired{Count: 200, Max: 128})
	e.Unsubscribe(id)
	e.Emit(0, ConsolidationRequired{Count: 200, Max: 128})
	assert.Equal(t, 1, n)
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() { e.Emit(0, NewOutput{}) })
}

func TestEmitter_Concurrent(t *testing.T) {
	e := New()
	var mu sync.Mutex
	n := 0
	e.Subscribe([]Kind{KindNewOutput}, func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Emit(0, NewOutput{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, n)
}

func TestProgress_String(t *testing.T) {
	assert.Equal(t, "PerformingPow", PerformingPow.String())
	assert.Equal(t, "TransactionProgress", KindTransactionProgress.String())
}
