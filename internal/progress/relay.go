package progress

import (
	"context"
	"encoding/json"

	"jettyreport/internal/logger"
	"jettyreport/internal/models"
	"jettyreport/internal/redis"
)

const redisProgressChannel = "upload:progress"

type relayMessage struct {
	SessionID string               `json:"session_id"`
	Finish    bool                 `json:"finish,omitempty"`
	Event     models.ProgressEvent `json:"event"`
}

// RedisRelay fans progress out through redis pub/sub so that SSE subscribers attached to
// any instance observe uploads handled by every instance. Messages are replayed into the
// local Hub by Start; Publish never touches the Hub directly.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
}

func NewRedisRelay(client *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{client: client, hub: hub}
}

// Start subscribes to the relay channel and feeds the hub until ctx is cancelled. It
// returns once the subscription is confirmed by the server.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub, err := r.client.Subscribe(ctx, redisProgressChannel)
	if err != nil {
		return err
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rm relayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
					logger.Warnf("progress relay decode failed: %v", err)
					continue
				}
				if rm.Finish {
					r.hub.Finish(rm.SessionID)
					continue
				}
				r.hub.Publish(rm.SessionID, rm.Event)
			}
		}
	}()
	return nil
}

// Publish broadcasts ev to every instance, this one included.
func (r *RedisRelay) Publish(sessionID string, ev models.ProgressEvent) {
	r.send(relayMessage{SessionID: sessionID, Event: ev})
}

// Finish broadcasts the end of a session.
func (r *RedisRelay) Finish(sessionID string) {
	r.send(relayMessage{SessionID: sessionID, Finish: true})
}

func (r *RedisRelay) send(msg relayMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("progress relay marshal failed: %v", err)
		return
	}
	if err := r.client.Publish(context.Background(), redisProgressChannel, payload); err != nil {
		logger.Errorf("progress relay publish failed: %v", err)
	}
}
