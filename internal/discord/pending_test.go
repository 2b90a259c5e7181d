package discord

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingResolveOnce(t *testing.T) {
	table := newPendingTable(time.Minute)
	ch, err := table.add("n1", CmdGetVoiceSettings)
	require.NoError(t, err)

	_, err = table.add("n1", CmdGetVoiceSettings)
	require.Error(t, err, "a nonce is inserted at most once")

	assert.True(t, table.settle("n1", result{data: json.RawMessage(`{"mute":true}`)}))
	assert.False(t, table.settle("n1", result{err: errors.New("late")}))
	assert.Zero(t, table.len())

	res := <-ch
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"mute":true}`, string(res.data))

	select {
	case extra := <-ch:
		t.Fatalf("second delivery: %+v", extra)
	default:
	}
}

func TestPendingTimeout(t *testing.T) {
	table := newPendingTable(20 * time.Millisecond)
	ch, err := table.add("n1", CmdAuthenticate)
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.ErrorIs(t, res.err, ErrTimeout)
		assert.Contains(t, res.err.Error(), CmdAuthenticate)
	case <-time.After(time.Second):
		t.Fatal("entry never timed out")
	}
	assert.Zero(t, table.len())
	assert.False(t, table.settle("n1", result{}), "a response after timeout is dropped")
}

func TestPendingRejectAll(t *testing.T) {
	table := newPendingTable(time.Minute)
	a, _ := table.add("a", CmdGetChannel)
	b, _ := table.add("b", CmdSubscribe)

	assert.Equal(t, 2, table.rejectAll(ErrConnectionClosed))
	assert.ErrorIs(t, (<-a).err, ErrConnectionClosed)
	assert.ErrorIs(t, (<-b).err, ErrConnectionClosed)
	assert.Zero(t, table.rejectAll(ErrConnectionClosed))
}

func TestPendingExactlyOnceUnderRace(t *testing.T) {
	table := newPendingTable(time.Millisecond)

	const n = 200
	chans := make([]<-chan result, n)
	for i := range chans {
		ch, err := table.add(fmt.Sprintf("n%d", i), CmdGetChannel)
		require.NoError(t, err)
		chans[i] = ch
	}

	// Responses race the timers and a bulk rejection.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table.settle(fmt.Sprintf("n%d", i), result{})
		}(i)
	}
	table.rejectAll(ErrConnectionClosed)
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	for i, ch := range chans {
		select {
		case <-ch:
		default:
			t.Fatalf("entry %d never settled", i)
		}
		select {
		case <-ch:
			t.Fatalf("entry %d settled twice", i)
		default:
		}
	}
	assert.Zero(t, table.len())
}
