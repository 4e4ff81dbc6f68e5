package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/auth"
	"github.com/vovakirdan/instalite-chat/internal/config"
	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub         core.Hub
	auth        *auth.Service
	log         *zerolog.Logger
	maxBytes    int64
	rateLimit   int
	jwtRequired bool
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:         hub,
		auth:        authService,
		log:         logger,
		maxBytes:    cfg.MaxMessageBytes,
		rateLimit:   cfg.RateLimitPerMinute,
		jwtRequired: cfg.JWTRequired,
	}
}

// connState is per-connection state owned by the read loop.
type connState struct {
	user    string
	authed  bool
	limiter *rateLimiter
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.maxBytes > 0 {
		conn.SetReadLimit(h.maxBytes)
	}

	client := core.NewClient(uuid.NewString(), "")
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &connState{limiter: newRateLimiter(h.rateLimit)}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, state)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "protocol error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	_ = conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, state *connState) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		if inbound.Type == proto.InboundTypeHello {
			out, err := h.handleHello(inbound, state)
			if err != nil {
				return err
			}
			if out != nil {
				if writeErr := wsjson.Write(ctx, conn, out); writeErr != nil {
					return writeErr
				}
			}
			continue
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Str("type", inbound.Type).Msg("failed to map inbound")
			return err
		}
		if protoErr == nil && h.jwtRequired && !state.authed {
			protoErr = &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "hello with a valid token is required"}
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		if cmd.Kind == core.CommandSendMessage && !state.limiter.allow() {
			h.log.Debug().Str("client_id", client.ID).Str("user", state.user).Str("room", cmd.Room).Msg("rate limit exceeded, dropping message")
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleHello applies a hello frame. A non-nil Outbound is an error reply;
// a non-nil error closes the connection.
func (h *WSHandler) handleHello(inbound proto.Inbound, state *connState) (*proto.Outbound, error) {
	var hello proto.HelloData
	if len(inbound.Data) > 0 {
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return nil, err
		}
	}

	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		out := errorOutbound(core.ErrCodeUnsupportedVersion, "unsupported protocol version")
		return &out, nil
	}

	if hello.Token != "" {
		claims, err := h.auth.ValidateToken(hello.Token)
		if err != nil {
			h.log.Debug().Err(err).Msg("ws hello with invalid token")
			out := errorOutbound(core.ErrCodeUnauthorized, "invalid token")
			return &out, nil
		}
		state.user = claims.Username
		state.authed = true
		return nil, nil
	}

	if h.jwtRequired {
		out := errorOutbound(core.ErrCodeUnauthorized, "token is required")
		return &out, nil
	}
	state.user = hello.User
	return nil, nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
