package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/instalite-chat/internal/client"
	"github.com/vovakirdan/instalite-chat/internal/proto"
)

// ws_smoke joins a room, sends one message and waits for its echo.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "sender name")
	token := flag.String("token", "", "JWT for servers that require one")
	room := flag.String("room", "global", "room id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := client.Dial(ctx, *addr, proto.HelloData{User: *user, Token: *token}, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.JoinRoom(ctx, *room); err != nil {
		return err
	}
	if err := conn.SendMessage(ctx, proto.SendMessageData{RoomID: *room, Sender: *user, Text: *text}); err != nil {
		return err
	}

	echoed := errors.New("echo received")
	listenCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	err = conn.Listen(listenCtx, func(m proto.MessageData) {
		fmt.Printf("newMessage: id=%s room=%s sender=%s text=%q createdAt=%s\n", m.ID, m.RoomID, m.Sender, m.Text, m.CreatedAt.Format(time.RFC3339))
		if m.RoomID == *room && m.Sender == *user && m.Text == *text {
			stop(echoed)
		}
	}, func(e proto.Error) {
		fmt.Printf("error: code=%s msg=%s\n", e.Code, e.Msg)
	})
	if errors.Is(context.Cause(listenCtx), echoed) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("no echo before timeout: %w", ctx.Err())
}
