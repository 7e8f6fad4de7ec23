package signaling

import (
	"context"
	"encoding/json"
	"errors"

	"teleconsult/internal/calls"
	"teleconsult/internal/coordinator"
)

var errBadMessage = errors.New("signaling: bad message")

func (h *Handler) dispatch(ctx context.Context, cl *client, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.replyError(cl, "", errBadMessage)
		return
	}

	switch env.Type {
	case typeJoinCall:
		h.handleJoin(ctx, cl, data)
	case typeOffer, typeAnswer, typeCandidate:
		h.handleSignal(ctx, cl, coordinator.Kind(env.Type), data)
	case typeChatMessage:
		h.handleChat(ctx, cl, data)
	case typeEndCall:
		h.handleEnd(ctx, cl, data)
	case typePing:
		_ = cl.conn.Send(pongReply{Type: "pong"})
	default:
		cl.log.Debug("unknown signal", "type", env.Type)
		h.replyError(cl, "", errBadMessage)
	}
}

func (h *Handler) handleJoin(ctx context.Context, cl *client, data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		h.replyError(cl, p.CallID, errBadMessage)
		return
	}
	if p.Role != "" && calls.Role(p.Role) != cl.role {
		h.replyError(cl, p.CallID, coordinator.ErrInvalidRole)
		return
	}

	res, err := h.coord.Join(ctx, coordinator.JoinRequest{
		CallID:        p.CallID,
		Role:          cl.role,
		ParticipantID: cl.caller.ID,
		Conn:          cl.conn,
	})
	if err != nil {
		h.replyError(cl, p.CallID, err)
		return
	}
	_ = cl.conn.Send(joinedReply{Type: "joined", CallID: p.CallID, Phase: res.Phase.String()})
}

func (h *Handler) handleSignal(ctx context.Context, cl *client, kind coordinator.Kind, data []byte) {
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		h.replyError(cl, p.CallID, errBadMessage)
		return
	}
	h.relay(ctx, cl, coordinator.RelayRequest{
		CallID:  p.CallID,
		From:    cl.role,
		Conn:    cl.conn,
		Kind:    kind,
		Payload: p.Payload,
	})
}

func (h *Handler) handleChat(ctx context.Context, cl *client, data []byte) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		h.replyError(cl, p.CallID, errBadMessage)
		return
	}
	h.relay(ctx, cl, coordinator.RelayRequest{
		CallID:     p.CallID,
		From:       cl.role,
		Conn:       cl.conn,
		Kind:       coordinator.KindChat,
		Payload:    p.Message,
		SenderName: p.SenderName,
	})
}

func (h *Handler) relay(ctx context.Context, cl *client, req coordinator.RelayRequest) {
	delivered, err := h.coord.Relay(ctx, req)
	if err != nil {
		h.replyError(cl, req.CallID, err)
		return
	}
	if !delivered {
		cl.log.Debug("relay dropped", "call_id", req.CallID, "kind", req.Kind)
	}
}

func (h *Handler) handleEnd(ctx context.Context, cl *client, data []byte) {
	var p endPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		h.replyError(cl, p.CallID, errBadMessage)
		return
	}
	res, err := h.coord.TryTerminate(ctx, p.CallID, coordinator.Trigger{
		Kind: coordinator.RelaySignal,
		Role: cl.role,
		Conn: cl.conn,
	})
	if err != nil {
		h.replyError(cl, p.CallID, err)
		return
	}
	if !res.Applied {
		cl.log.Debug("end request absorbed", "call_id", p.CallID)
	}
}
