package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/fumes/internal/nlp"
)

// wsRequest asks for one optimization. Config is a partial configuration
// laid over Preset.
type wsRequest struct {
	Type   string          `json:"type"`
	Preset string          `json:"preset"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

type wsMessage struct {
	Type      string         `json:"type"`
	Iteration *nlp.Iteration `json:"iteration,omitempty"`
	Result    *runResult     `json:"result,omitempty"`
	Error     *errorBody     `json:"error,omitempty"`
}

// serveWs runs optimizations requested over a websocket, streaming solver
// progress and then the result. Requests on one connection run in order.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			log.WithError(err).Debug("websocket closed")
			return
		}

		reply := s.handleWs(r, req, func(it nlp.Iteration) {
			if err := conn.WriteJSON(wsMessage{Type: "progress", Iteration: &it}); err != nil {
				log.WithError(err).Debug("websocket progress")
			}
		})
		if err := conn.WriteJSON(reply); err != nil {
			log.WithError(err).Debug("websocket write")
			return
		}
	}
}

func (s *Server) handleWs(r *http.Request, req wsRequest, progress func(nlp.Iteration)) wsMessage {
	fail := func(err error) wsMessage {
		_, body := errorResponse(err)
		return wsMessage{Type: "error", Error: &body}
	}

	if req.Type != "optimize" {
		return fail(fmt.Errorf("%w: unknown message type %q", errBadRequest, req.Type))
	}
	cfg, err := decodeConfig(req.Preset, req.Config)
	if err != nil {
		return fail(err)
	}
	res, err := s.solve(r.Context(), cfg, req.Name, progress)
	if err != nil {
		return fail(err)
	}
	return wsMessage{Type: "result", Result: res}
}
