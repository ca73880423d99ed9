package merge

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type action struct {
	stream    int
	watermark bool
	at        int64
	user      string
	amount    int
}

func randomActions(r *rand.Rand, n int) []action {
	var (
		actions    []action
		watermarks = [2]int64{0, 0}
	)
	for i := 0; i < n; i++ {
		stream := r.Intn(2) + 1
		if r.Intn(5) == 0 {
			watermarks[stream-1] += r.Int63n(15)
			actions = append(actions, action{stream: stream, watermark: true, at: watermarks[stream-1]})
			continue
		}
		base := watermarks[0]
		if watermarks[1] < base {
			base = watermarks[1]
		}
		actions = append(actions, action{
			stream: stream,
			at:     base - 10 + r.Int63n(40),
			user:   []string{"a", "b", "c"}[r.Intn(3)],
			amount: r.Intn(100),
		})
	}
	return actions
}

func apply(t *testing.T, operator *Operator[click, purchase, string, string, string], actions []action) {
	for _, a := range actions {
		var err error
		switch {
		case a.watermark && a.stream == 1:
			err = operator.ProcessWatermark1(element.Watermark(a.at))
		case a.watermark:
			err = operator.ProcessWatermark2(element.Watermark(a.at))
		case a.stream == 1:
			err = operator.ProcessEvent1(element.NewEvent(click{User: a.user, At: a.at, Page: strings.Repeat("p", a.amount%3+1)}, a.at))
		default:
			err = operator.ProcessEvent2(element.NewEvent(purchase{User: a.user, At: a.at, Amount: a.amount}, a.at))
		}
		require.NoError(t, err)
	}
}

func TestMergeSnapshotRestoreEqualsUninterruptedRun(t *testing.T) {
	options := [][]window.Option{
		{window.WithTumbling(10*time.Millisecond, 0)},
		{window.WithSliding(20*time.Millisecond, 5*time.Millisecond, 0), window.WithAllowedLateness(5 * time.Millisecond)},
		{window.WithTumbling(10*time.Millisecond, 0), window.WithOnTimeFiring(), window.WithLateFiringCount(2),
			window.WithAllowedLateness(10 * time.Millisecond), window.WithLatenessPolicy(window.Combined)},
	}
	for i, opts := range options {
		for seed := int64(0); seed < 5; seed++ {
			r := rand.New(rand.NewSource(seed + int64(i)*100))
			actions := randomActions(r, 300)
			actions = append(actions,
				action{stream: 1, watermark: true, at: 1 << 40},
				action{stream: 2, watermark: true, at: 1 << 40})
			split := r.Intn(len(actions))

			uninterrupted, expected, _ := newJourney(t, opts...)
			apply(t, uninterrupted, actions)

			first, collector, _ := newJourney(t, opts...)
			apply(t, first, actions[:split])
			state, err := first.SnapshotState()
			require.NoError(t, err)

			second, resumed, _ := newJourney(t, opts...)
			require.NoError(t, second.RestoreState(state))
			apply(t, second, actions[split:])

			assert.Equal(t, expected.values(), append(collector.values(), resumed.values()...), "options %d seed %d split %d", i, seed, split)
			assert.Equal(t, expected.watermarks, append(collector.watermarks, resumed.watermarks...))
		}
	}
}

func TestMergeDefaultPolicyFiresEachWindowKeyOnce(t *testing.T) {
	operator, collector, _ := newJourney(t)
	r := rand.New(rand.NewSource(42))
	actions := append(randomActions(r, 500),
		action{stream: 1, watermark: true, at: 1 << 40},
		action{stream: 2, watermark: true, at: 1 << 40})
	apply(t, operator, actions)

	seen := map[string]bool{}
	for _, value := range collector.values() {
		windowKey := value[:strings.Index(value, "=")]
		assert.False(t, seen[windowKey], windowKey)
		seen[windowKey] = true
	}
	assert.NotEmpty(t, seen)
}

func TestMergeRestoreRejectsGarbage(t *testing.T) {
	operator, _, _ := newJourney(t)
	assert.Error(t, operator.RestoreState([]byte{1, 2, 3}))

	unopened, err := New(journeyFunctions(), window.WithTumbling(10*time.Millisecond, 0))
	require.NoError(t, err)
	assert.ErrorIs(t, unopened.Restore(Checkpoint[string, string]{}), ErrNotOpened)
}
