package storage

import (
	"context"
	"time"

	"rotor/internal/eventbus"
	"rotor/internal/sender"
	"rotor/pkg/logx"
)

// RunRecorder consumes send events from the bus and appends them to the
// store until ctx is canceled. A nil store makes it a no-op.
func RunRecorder(ctx context.Context, bus eventbus.Bus, store Store, log logx.Logger) error {
	if store == nil || bus == nil {
		<-ctx.Done()
		return nil
	}
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			se, isSend := ev.Data.(sender.Event)
			if !isSend {
				continue
			}
			switch ev.Type {
			case eventbus.TypeSendOK, eventbus.TypeSendRateLimited, eventbus.TypeSendError:
			default:
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := store.AppendSend(wctx, SendRecord{
				At:         ev.Time,
				Account:    se.Account,
				Target:     se.Target,
				Outcome:    string(se.Kind),
				MessageID:  se.MessageID,
				RetryAfter: se.RetryAfter,
				Error:      se.Error,
			})
			cancel()
			if err != nil {
				log.Warn("history append failed", logx.Err(err))
			}
		}
	}
}
