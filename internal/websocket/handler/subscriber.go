// internal/websocket/handler/subscriber.go
package handlers

import (
	"context"
	"errors"
	"fmt"

	"netbill-service/internal/domain/subscriber"
	wstypes "netbill-service/internal/domain/websocket"
	xerrors "netbill-service/internal/pkg/errors"
	ws "netbill-service/internal/websocket"
)

type SubscriberLookup interface {
	GetByUsername(ctx context.Context, username string) (*subscriber.Subscriber, error)
}

// SubscriberHandler answers subscriber lookups over the operator feed.
type SubscriberHandler struct {
	subscribers SubscriberLookup
}

func NewSubscriberHandler(subscribers SubscriberLookup) *SubscriberHandler {
	return &SubscriberHandler{subscribers: subscribers}
}

func (h *SubscriberHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeSubscriberGet}
}

func (h *SubscriberHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeSubscriberGet:
		return h.handleGet(ctx, client, msg)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *SubscriberHandler) handleGet(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req wstypes.SubscriberGetRequest
	if err := ws.DecodeData(msg.Data, &req); err != nil || req.Username == "" {
		client.SendError("invalid_request", "username is required", "")
		return nil
	}

	sub, err := h.subscribers.GetByUsername(ctx, req.Username)
	if errors.Is(err, xerrors.ErrNotFound) {
		client.SendError("not_found", "subscriber not found", req.Username)
		return nil
	}
	if err != nil {
		return err
	}

	reply := wstypes.NewMessage(wstypes.EventTypeSubscriberGet, sub.ToResponse())
	reply.Metadata = map[string]interface{}{"request_id": msg.ID}
	client.SendMessage(reply)
	return nil
}
