package botkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/botkit/store"
)

func TestEngineHandleTriggerEndToEnd(t *testing.T) {
	e := New(Config{Prefix: "!"})
	require.NoError(t, e.Registry().Register(&Command{
		Name: "echo",
		Run: func(ctx context.Context, inv *Context) error {
			parts := make([]string, 0, len(inv.Args))
			for _, a := range inv.Args {
				parts = append(parts, a.(string))
			}
			return inv.Reply(ctx, strings.Join(parts, " "))
		},
	}))

	tr := &recordingTransport{}
	e.HandleTrigger(context.Background(), TextTrigger{
		Actor:   User{ID: "u1"},
		Origin:  Origin{GuildID: "g1", ChannelID: "c1"},
		Content: "!echo hello world",
	}, tr)

	last, ok := tr.lastReply()
	require.True(t, ok)
	assert.Equal(t, "hello world", last.Content)
}

func TestEngineHandleTriggerIgnoresPlainChatter(t *testing.T) {
	e := New(Config{Prefix: "!"})
	ran := false
	require.NoError(t, e.Registry().Register(&Command{
		Name: "ping",
		Run: func(context.Context, *Context) error {
			ran = true
			return nil
		},
	}))

	e.HandleTrigger(context.Background(), TextTrigger{Content: "good morning"}, nil)

	assert.False(t, ran)
}

func TestEngineEmitRoutesEvents(t *testing.T) {
	e := New(Config{Prefix: "!"})
	var gotActor string
	e.Router().Subscribe("memberJoin", func(_ context.Context, inv *Context, _ ...any) error {
		gotActor = inv.Actor.ID
		return nil
	})

	e.Emit(context.Background(), "memberJoin", TextTrigger{Actor: User{ID: "u7"}}, nil)

	assert.Equal(t, "u7", gotActor)
}

func TestEngineCustomDiagnosticsSink(t *testing.T) {
	diags := &diagRecorder{}
	e := New(Config{Prefix: "!"}, WithDiagnostics(diags.sink()))
	require.NoError(t, e.Registry().Register(&Command{
		Name: "ping",
		Run:  func(context.Context, *Context) error { return errors.New("boom") },
	}))

	e.HandleTrigger(context.Background(), TextTrigger{
		Actor:   User{ID: "u1"},
		Origin:  Origin{GuildID: "g1"},
		Content: "!ping",
	}, &recordingTransport{})

	assert.Equal(t, []string{StageHandler}, diags.stages())
}

func TestEngineBindCapabilities(t *testing.T) {
	e := New(Config{Prefix: "!"})
	ran := false
	require.NoError(t, e.Registry().Register(&Command{
		Name:        "purge",
		Permissions: []string{"manage-messages"},
		Run: func(context.Context, *Context) error {
			ran = true
			return nil
		},
	}))

	e.BindCapabilities(&stubCaps{held: map[string]bool{"manage-messages": true}})
	e.HandleTrigger(context.Background(), TextTrigger{
		Actor:   User{ID: "u1"},
		Origin:  Origin{GuildID: "g1"},
		Content: "!purge",
	}, &recordingTransport{})

	assert.True(t, ran)
}

type closeTrackingStore struct {
	*store.Memory
	closed bool
}

func (s *closeTrackingStore) Close() error {
	s.closed = true
	return nil
}

func TestEngineStartStop(t *testing.T) {
	st := &closeTrackingStore{Memory: store.NewMemory()}
	e := New(Config{Prefix: "!"}, WithStore(st))

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())

	assert.True(t, st.closed, "the engine owns the store it was handed")
}

func TestTaskRunnerRejectsDuplicateNames(t *testing.T) {
	tr := newTaskRunner(zerolog.Nop())
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	require.NoError(t, tr.start(context.Background(), "janitor", block))
	err := tr.start(context.Background(), "janitor", block)
	require.Error(t, err)

	tr.stopAll()
}

func TestTaskRunnerStopAllWaits(t *testing.T) {
	tr := newTaskRunner(zerolog.Nop())
	stopped := make(chan struct{})
	require.NoError(t, tr.start(context.Background(), "janitor", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))

	tr.stopAll()

	select {
	case <-stopped:
	default:
		t.Fatal("stopAll returned before the task finished")
	}
}

func TestTaskRunnerNameFreesOnCompletion(t *testing.T) {
	tr := newTaskRunner(zerolog.Nop())
	done := make(chan struct{})
	require.NoError(t, tr.start(context.Background(), "oneshot", func(context.Context) error {
		close(done)
		return nil
	}))
	<-done

	// The task removes itself when its function returns; the name becomes
	// reusable shortly after.
	require.Eventually(t, func() bool {
		return tr.start(context.Background(), "oneshot", func(context.Context) error { return nil }) == nil
	}, time.Second, 5*time.Millisecond)

	tr.stopAll()
}
