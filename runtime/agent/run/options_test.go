package run

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/agentrun/runtime/agent/hooks"
)

func TestResolveDefaults(t *testing.T) {
	s := Resolve(nil)

	require.False(t, s.Stream)
	require.False(t, s.AddHistoryToContext)
	require.True(t, s.StoreMedia)
	require.True(t, s.StoreToolMessages)
	require.True(t, s.StoreHistoryMessages)
	require.Equal(t, 0, s.Retries)
	require.Equal(t, time.Second, s.RetryDelay)
	require.False(t, s.ExponentialBackoff)
	require.Empty(t, s.SaveResponseTo)
}

func TestResolvePrecedence(t *testing.T) {
	caller := &Options{
		Stream:  Bool(true),
		Retries: Int(5),
	}
	agent := &Options{
		Stream:     Bool(false),
		Retries:    Int(1),
		RetryDelay: Duration(250 * time.Millisecond),
	}

	s := Resolve(caller, agent)

	// Caller layer wins where set; the agent layer fills the rest.
	require.True(t, s.Stream)
	require.Equal(t, 5, s.Retries)
	require.Equal(t, 250*time.Millisecond, s.RetryDelay)
}

func TestResolveExplicitFalseOverridesLowerTrue(t *testing.T) {
	caller := &Options{StoreMedia: Bool(false)}
	agent := &Options{StoreMedia: Bool(true)}

	s := Resolve(caller, agent)
	require.False(t, s.StoreMedia)
}

func TestResolveSkipEventsOverridesEntirely(t *testing.T) {
	caller := &Options{SkipEvents: []hooks.EventType{hooks.IntermediateRunContent}}
	agent := &Options{SkipEvents: []hooks.EventType{hooks.RunContent, hooks.RunStarted}}

	s := Resolve(caller, agent)
	require.True(t, s.SkipEvents[hooks.IntermediateRunContent])
	require.False(t, s.SkipEvents[hooks.RunContent])
	require.Len(t, s.SkipEvents, 1)
}

func TestResolveEmptySkipEventsStillOverrides(t *testing.T) {
	caller := &Options{SkipEvents: []hooks.EventType{}}
	agent := &Options{SkipEvents: []hooks.EventType{hooks.RunContent}}

	s := Resolve(caller, agent)
	require.Empty(t, s.SkipEvents)
}

func TestAttemptDelayFlat(t *testing.T) {
	s := Resolve(&Options{RetryDelay: Duration(2 * time.Second)})
	require.Equal(t, 2*time.Second, s.AttemptDelay(0))
	require.Equal(t, 2*time.Second, s.AttemptDelay(3))
}

func TestAttemptDelayExponential(t *testing.T) {
	s := Resolve(&Options{
		RetryDelay:         Duration(time.Second),
		ExponentialBackoff: Bool(true),
	})
	require.Equal(t, time.Second, s.AttemptDelay(0))
	require.Equal(t, 2*time.Second, s.AttemptDelay(1))
	require.Equal(t, 4*time.Second, s.AttemptDelay(2))
	require.Equal(t, 8*time.Second, s.AttemptDelay(3))
}

func TestAttemptDelayDoublesProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("exponential delay doubles per attempt", prop.ForAll(
		func(baseMillis int, attempt int) bool {
			s := Resolve(&Options{
				RetryDelay:         Duration(time.Duration(baseMillis) * time.Millisecond),
				ExponentialBackoff: Bool(true),
			})
			return s.AttemptDelay(attempt+1) == 2*s.AttemptDelay(attempt)
		},
		gen.IntRange(1, 10000),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
