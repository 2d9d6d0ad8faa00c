package workflowstate

import (
	"github.com/atlasflow/durable/backend/payload"
	"github.com/atlasflow/durable/internal/contextvalue"
	"github.com/atlasflow/durable/internal/sync"
)

// ReceiveSignal delivers a raw signal payload to the workflow. If no channel
// exists for the signal name yet, the payload is buffered until one is created.
func ReceiveSignal(wf *WfState, name string, arg payload.Payload) {
	sc, ok := wf.signalChannels[name]
	if ok {
		sc.receive(arg)
		return
	}

	wf.pendingSignals[name] = append(wf.pendingSignals[name], arg)
}

func GetSignalChannel[T any](ctx sync.Context, wf *WfState, name string) sync.Channel[T] {
	sc, ok := wf.signalChannels[name]
	if ok {
		return sc.channel.(sync.Channel[T])
	}

	c := sync.NewBufferedChannel[T](10_000)

	cv := contextvalue.Converter(ctx)

	wf.signalChannels[name] = &signalChannel{
		receive: func(input payload.Payload) {
			var t T
			if err := cv.From(input, &t); err != nil {
				panic(err)
			}

			// Channel is buffered, send without blocking on a yield.
			c.SendNonBlocking(t)
		},
		channel: c,
	}

	// Drain signals received before the channel existed, in arrival order.
	if pending, ok := wf.pendingSignals[name]; ok {
		for _, p := range pending {
			var t T
			if err := cv.From(p, &t); err != nil {
				panic(err)
			}

			c.SendNonBlocking(t)
		}

		delete(wf.pendingSignals, name)
	}

	return c
}
