package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gachalab/internal/gacha"
)

type FeedMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type winEvent struct {
	GachaID string          `json:"gacha_id"`
	Prize   gacha.PrizeInfo `json:"prize"`
	At      int64           `json:"at"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return s.allowOrigin(origin) == origin
		},
	}
}

// HandleFeed streams wins to anonymous viewers. Inbound frames only serve
// as ping.
func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := NewFeedClient(conn)
	s.Hub.Register(client)
	defer func() {
		s.Hub.Unregister(client)
		_ = conn.Close()
		close(client.SendCh)
	}()

	go client.WritePump()

	client.Send(mustJSON(FeedMessage{
		Type: "hello",
		Data: map[string]interface{}{
			"server_time": time.Now().UnixMilli(),
			"online":      s.Hub.OnlineCount(),
		},
	}))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var inbound struct {
			Type string `json:"type"`
			Ts   int64  `json:"ts"`
		}
		if err := json.Unmarshal(msg, &inbound); err != nil {
			continue
		}
		if inbound.Type == "ping" {
			client.Send(mustJSON(FeedMessage{
				Type: "pong",
				Data: map[string]interface{}{
					"ts":          inbound.Ts,
					"server_time": time.Now().UnixMilli(),
				},
			}))
		}
	}
}

// publishWin goes through Redis when configured so every instance's sockets
// see it; otherwise straight to the local hub.
func (s *Server) publishWin(ctx context.Context, ev winEvent) {
	payload := mustJSON(FeedMessage{Type: "win", Data: ev})
	if s.Redis == nil {
		s.Hub.Broadcast(payload)
		return
	}
	if err := s.Redis.Publish(ctx, feedChannel, payload).Err(); err != nil {
		log.Printf("feed publish failed: %v", err)
		s.Hub.Broadcast(payload)
	}
}

func (s *Server) runFeedRelay(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	sub := s.Redis.Subscribe(ctx, feedChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.Hub.Broadcast([]byte(msg.Payload))
		}
	}
}
