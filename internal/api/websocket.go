package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"arbengine/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are fanned out to every websocket client.
var streamTopics = []events.Event{
	events.EventPriceTick,
	events.EventOrderFilled,
	events.EventOrderRejected,
	events.EventPositionChange,
	events.EventRiskAlert,
	events.EventVolatilityWarning,
	events.EventNewsUpdate,
	events.EventStrategyTransition,
	events.EventEngineState,
	events.EventMarketAccessError,
}

type streamFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeAll(streamTopics, 256)
	defer unsub()

	for msg := range stream {
		frame := streamFrame{Topic: string(msg.Topic), Payload: msg.Payload}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
