package main

import (
	"github.com/rs/zerolog"

	"github.com/costinm/h3mux/h3"
)

// echoHandler is the demo's TransactionHandler: on the server side it
// echoes the request body back on the same stream; on the client side it
// just records completion on done.
type echoHandler struct {
	stream *h3.Stream
	log    zerolog.Logger
	done   chan struct{}

	body []byte
}

func (h *echoHandler) OnHeadersComplete(hdrs []h3.HeaderField) {
	h.log.Debug().Int("count", len(hdrs)).Msg("h3mux-echo: headers")
}

func (h *echoHandler) OnBody(data []byte) {
	h.body = append(h.body, data...)
}

func (h *echoHandler) OnTrailers(hdrs []h3.HeaderField) {}

func (h *echoHandler) OnMessageComplete() {
	if h.stream.Sess().Role() == h3.RoleServer {
		h.stream.SendHeaders([]h3.HeaderField{{Name: ":status", Value: "200"}})
		h.stream.SendBody(h.body)
		h.stream.SendEOM()
		return
	}
	h.log.Info().Bytes("body", h.body).Msg("h3mux-echo: echoed back")
	if h.done != nil {
		close(h.done)
	}
}

func (h *echoHandler) OnError(err error) {
	h.log.Error().Err(err).Msg("h3mux-echo: stream error")
	if h.done != nil {
		select {
		case <-h.done:
		default:
			close(h.done)
		}
	}
}

func (h *echoHandler) OnUnacknowledged()           {}
func (h *echoHandler) OnEgressLastByteAck()         {}
func (h *echoHandler) OnDeliveryCanceled()          {}
func (h *echoHandler) OnPartialReliabilityAck(uint64) {}
func (h *echoHandler) OnWriteReady(canSend int, shareRatio float64) {}
func (h *echoHandler) OnPushPromiseHeadersComplete(pushID uint64, hdrs []h3.HeaderField) {}
