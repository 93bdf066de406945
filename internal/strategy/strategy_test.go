package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/strategy"
)

func TestTerminals_CoversWheel(t *testing.T) {
	for v := models.MinValue; v <= models.MaxValue; v++ {
		ts := strategy.Terminals(v)
		require.NotEmpty(t, ts, "value %d", v)
		for _, x := range ts {
			assert.True(t, models.ValidValue(x), "terminal %d of %d off the wheel", x, v)
		}
	}
	assert.Nil(t, strategy.Terminals(37))
	assert.NotContains(t, strategy.Terminals(5), 7)
}

func TestTerminals_ReturnsCopy(t *testing.T) {
	a := strategy.Terminals(5)
	a[0] = 99
	assert.NotEqual(t, 99, strategy.Terminals(5)[0])
}

func TestNext_NeutralOpensTrigger(t *testing.T) {
	st, ups := strategy.Next(strategy.Initial("t1"), 5)

	assert.Equal(t, models.StateTriggered, st.State)
	assert.Equal(t, 5, st.TriggerValue)
	assert.Equal(t, strategy.Terminals(5), st.Terminals)
	assert.Equal(t, 5, st.LastOutcome)
	require.Len(t, ups, 1)
	assert.Equal(t, "t1", ups[0].TableID)
	assert.Len(t, ups[0].Terminals, 3)
	assert.Equal(t, "BET ON: 5,6,9", ups[0].DisplayText)
}

func TestNext_WinPath(t *testing.T) {
	st := strategy.Replay(strategy.Initial("t1"), []int{5})
	hit := strategy.Terminals(5)[1]

	st, ups := strategy.Next(st, hit)

	assert.Equal(t, models.StateNeutral, st.State)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 0, st.Losses)
	assert.Equal(t, models.NoValue, st.TriggerValue)
	require.Len(t, ups, 1)
	assert.Equal(t, "WAITING FOR TRIGGER", ups[0].DisplayText)
}

func TestNext_MissThenExhausted(t *testing.T) {
	st := strategy.Replay(strategy.Initial("t1"), []int{5, 7})

	assert.Equal(t, models.StatePostAdjustNeutral, st.State)
	assert.Equal(t, 0, st.Wins)
	assert.Equal(t, 0, st.Losses)
	assert.Equal(t, 5, st.PreviousTriggerValue)
	assert.Equal(t, strategy.Terminals(5), st.PreviousTerminals)
	assert.Equal(t, 7, st.TriggerValue)

	miss := 1
	require.NotContains(t, st.Terminals, miss)
	st, ups := strategy.Next(st, miss)

	assert.Equal(t, models.StateExhausted, st.State)
	assert.Equal(t, 1, st.Losses)
	require.Len(t, ups, 1)
	assert.Equal(t, "WAITING FOR NEXT CYCLE", ups[0].DisplayText)
}

func TestNext_SecondAttemptWins(t *testing.T) {
	st := strategy.Replay(strategy.Initial("t1"), []int{5, 7})
	st, _ = strategy.Next(st, 4)

	assert.Equal(t, models.StateNeutral, st.State)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 0, st.Losses)
}

func TestNext_ExhaustedReTriggersImmediately(t *testing.T) {
	st := strategy.Replay(strategy.Initial("t1"), []int{5, 7, 1})
	require.Equal(t, models.StateExhausted, st.State)

	st, ups := strategy.Next(st, 12)

	assert.Equal(t, models.StateTriggered, st.State)
	assert.Equal(t, 12, st.TriggerValue)
	assert.Equal(t, 1, st.Losses)
	require.Len(t, ups, 2)
	assert.Equal(t, models.StateNeutral, ups[0].State)
	assert.Equal(t, models.StateTriggered, ups[1].State)
}

func TestNext_DoesNotMutateInput(t *testing.T) {
	st := strategy.Replay(strategy.Initial("t1"), []int{5})
	before := append([]int(nil), st.Terminals...)

	_, _ = strategy.Next(st, 7)

	assert.Equal(t, models.StateTriggered, st.State)
	assert.Equal(t, before, st.Terminals)
}

func TestNext_Deterministic(t *testing.T) {
	seq := []int{5, 7, 1, 12, 0, 36, 36, 14, 2, 9, 33, 17, 17, 4}
	a := strategy.Replay(strategy.Initial("t1"), seq)
	b := strategy.Replay(strategy.Initial("t1"), seq)
	assert.Equal(t, a, b)
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "WAITING FOR TRIGGER", strategy.DisplayText(models.StateNeutral, nil))
	assert.Equal(t, "BET ON: 1,2,3", strategy.DisplayText(models.StateTriggered, []int{1, 2, 3}))
	assert.Equal(t, "SECOND ATTEMPT: 4", strategy.DisplayText(models.StatePostAdjustNeutral, []int{4}))
	assert.Equal(t, "WAITING FOR NEXT CYCLE", strategy.DisplayText(models.StateExhausted, []int{4}))
}

func TestUpdateEvent(t *testing.T) {
	_, ups := strategy.Next(strategy.Initial("t1"), 0)
	ev := ups[0].Event()
	assert.Equal(t, models.StateTriggered, ev.State)
	assert.Equal(t, 0, ev.TriggerValue)
	assert.Equal(t, []int{0, 3, 6}, ev.Terminals)
}
