package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/instalite-chat/internal/client"
	applog "github.com/vovakirdan/instalite-chat/internal/log"
	"github.com/vovakirdan/instalite-chat/internal/proto"
)

type options struct {
	server        string
	login         string
	password      string
	registerEmail string
	logLevel      string
	session       client.Options
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	flags.StringVarP(&opts.login, "login", "u", "", "username or email")
	flags.StringVarP(&opts.password, "password", "p", "", "password")
	flags.StringVar(&opts.registerEmail, "register", "", "register a new account with this email before signing in")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.BoolVar(&opts.session.JoinOnSelect, "join-on-select", false, "join a room as soon as it is opened")
	flags.BoolVar(&opts.session.LeaveOnSwitch, "leave-on-switch", false, "leave the previous room when opening another")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	logger := applog.NewWithWriter(os.Stderr, opts.logLevel)
	api := client.NewAPI(opts.server, nil)

	var (
		auth *client.AuthResult
		err  error
	)
	if opts.registerEmail != "" {
		auth, err = api.Register(ctx, opts.login, opts.registerEmail, opts.password)
	} else {
		auth, err = api.Login(ctx, opts.login, opts.password)
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	conn, err := client.Dial(ctx, wsURL(opts.server), proto.HelloData{Token: auth.Token}, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	view := &terminalView{out: out}
	self := client.Partner{ID: auth.User.ID, Username: auth.User.Username}
	session := client.NewSession(self, conn, api, view, opts.session, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		err := conn.Listen(ctx, func(m proto.MessageData) { session.HandleIncoming(m) }, func(e proto.Error) {
			fmt.Fprintf(out, "! server error %s: %s\n", e.Code, e.Msg)
		})
		if err != nil {
			logger.Warn().Err(err).Msg("connection closed")
		}
	}()

	fmt.Fprintf(out, "Signed in as %s. Type /help for commands.\n", self.Username)
	repl(ctx, &shell{api: api, session: session, out: out, log: logger}, in)
	return nil
}

func wsURL(server string) string {
	u := strings.TrimSuffix(server, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func repl(ctx context.Context, sh *shell, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := sh.handle(ctx, line); quit {
				return
			}
		}
	}
}

type shell struct {
	api     *client.API
	session *client.Session
	out     io.Writer
	log     *zerolog.Logger
}

func (sh *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		if err := sh.session.Send(ctx, line); err != nil {
			sh.report(err)
		}
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(sh.out, "/search <q>   find users")
		fmt.Fprintln(sh.out, "/open <user>  open a private conversation")
		fmt.Fprintln(sh.out, "/global       open the global room")
		fmt.Fprintln(sh.out, "/attach <f>   upload a file for the next message")
		fmt.Fprintln(sh.out, "/leave        stop receiving the open room")
		fmt.Fprintln(sh.out, "/quit         exit")
	case "/search":
		users, err := sh.api.SearchUsers(ctx, arg)
		if err != nil {
			sh.report(err)
			return false
		}
		for _, u := range users {
			fmt.Fprintf(sh.out, "  %s (#%d)\n", u.Username, u.ID)
		}
	case "/open":
		partner, err := sh.findUser(ctx, arg)
		if err != nil {
			sh.report(err)
			return false
		}
		sh.report(sh.session.SelectPartner(ctx, partner))
	case "/global":
		sh.report(sh.session.SelectGlobal(ctx))
	case "/attach":
		att, err := sh.api.UploadFile(ctx, arg)
		if err != nil {
			sh.report(err)
			return false
		}
		sh.session.Attach(*att)
		fmt.Fprintf(sh.out, "attached %s, it goes out with the next message\n", att.Name)
	case "/leave":
		sh.report(sh.session.Leave(ctx))
	default:
		fmt.Fprintf(sh.out, "unknown command %s\n", name)
	}
	return false
}

func (sh *shell) findUser(ctx context.Context, username string) (client.Partner, error) {
	if username == "" {
		return client.Partner{}, errors.New("usage: /open <username>")
	}
	users, err := sh.api.SearchUsers(ctx, username)
	if err != nil {
		return client.Partner{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return client.Partner{ID: u.ID, Username: u.Username}, nil
		}
	}
	return client.Partner{}, fmt.Errorf("user %q not found", username)
}

func (sh *shell) report(err error) {
	if err == nil {
		return
	}
	sh.log.Debug().Err(err).Msg("command failed")
	fmt.Fprintf(sh.out, "! %v\n", err)
}

// terminalView prints the open conversation line by line.
type terminalView struct {
	out io.Writer
}

func (v *terminalView) Reset(title string) {
	fmt.Fprintf(v.out, "=== %s ===\n", title)
}

func (v *terminalView) Render(m proto.MessageData) {
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.Sender, m.Text)
	if m.FileURL != nil {
		name := *m.FileURL
		if m.FileName != nil {
			name = *m.FileName
		}
		line += fmt.Sprintf(" [file %s %s]", name, *m.FileURL)
	}
	fmt.Fprintln(v.out, line)
}
