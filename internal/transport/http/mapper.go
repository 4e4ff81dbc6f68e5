package http

import (
	"encoding/json"

	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/proto"
)

// inboundToCommand maps a room-level inbound frame to a hub command. Empty
// room ids are passed through; the hub ignores them.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoinRoom:
		var join proto.RoomData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		return &core.Command{Kind: core.CommandJoinRoom, Room: join.RoomID}, nil, nil
	case proto.InboundTypeLeaveRoom:
		var leave proto.RoomData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil {
			return nil, nil, err
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: leave.RoomID}, nil, nil
	case proto.InboundTypeSendMessage:
		var msg proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind: core.CommandSendMessage,
			Room: msg.RoomID,
			Message: core.Message{
				// ID and CreatedAt are assigned on append.
				Room:     msg.RoomID,
				Sender:   msg.Sender,
				Text:     msg.Text,
				FileURL:  msg.FileURL,
				FileName: msg.FileName,
			},
		}, nil, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessage,
			Data:  messageData(event.Message),
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func messageData(msg core.Message) proto.MessageData {
	return proto.MessageData{
		ID:        msg.ID,
		RoomID:    msg.Room,
		Sender:    msg.Sender,
		Text:      msg.Text,
		FileURL:   msg.FileURL,
		FileName:  msg.FileName,
		CreatedAt: msg.CreatedAt,
	}
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}
