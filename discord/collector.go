package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// listenable is the one session capability collectors need: registering a
// temporary gateway handler and getting back its remover.
type listenable interface {
	AddHandler(handler interface{}) func()
}

// NextMessage waits for the first message matching filter. It resolves to
// nil on timeout; the gateway listener is always detached before return. A
// nil filter matches every message.
func NextMessage(ctx context.Context, s listenable, filter func(*discordgo.MessageCreate) bool, timeout time.Duration) (*discordgo.MessageCreate, error) {
	matched := make(chan *discordgo.MessageCreate, 1)
	detach := s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if filter != nil && !filter(m) {
			return
		}
		select {
		case matched <- m:
		default:
		}
	})
	defer detach()

	return await(ctx, matched, timeout)
}

// NextComponent waits for the first component interaction matching filter,
// typically keyed on its custom ID. Same timeout contract as NextMessage.
func NextComponent(ctx context.Context, s listenable, filter func(*discordgo.InteractionCreate) bool, timeout time.Duration) (*discordgo.InteractionCreate, error) {
	matched := make(chan *discordgo.InteractionCreate, 1)
	detach := s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionMessageComponent {
			return
		}
		if filter != nil && !filter(i) {
			return
		}
		select {
		case matched <- i:
		default:
		}
	})
	defer detach()

	return await(ctx, matched, timeout)
}

func await[T any](ctx context.Context, matched <-chan *T, timeout time.Duration) (*T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-matched:
		return v, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
