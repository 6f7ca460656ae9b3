package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	flag "maunium.net/go/mauflag"

	"github.com/beeper/webchat-bridge/pkg/bridgerpc"
	"github.com/beeper/webchat-bridge/pkg/bridgetransport"
	"github.com/beeper/webchat-bridge/pkg/transcript"
)

var (
	hostURL     = flag.MakeFull("u", "url", "Bridge endpoint of the host.", "ws://127.0.0.1:18790/webchat/bridge").String()
	sessionKey  = flag.MakeFull("s", "session", "Session to attach to.", "main").String()
	callTimeout = flag.MakeFull("t", "timeout", "How long to wait for each reply, e.g. 2m. 0 waits forever.", "0").String()
	debug       = flag.MakeFull("d", "debug", "Log protocol details to stderr.", "false").Bool()
	wantHelp, _ = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"webchat-cli - talk to a web chat host from the terminal.",
		"webchat-cli [-hd] [-u <url>] [-s <session>] [-t <timeout>]",
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	}
	timeout, err := time.ParseDuration(*callTimeout)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Invalid timeout:", err)
		os.Exit(1)
	}

	level := zerolog.WarnLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = run(ctx, timeout, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Web chat stopped")
		os.Exit(2)
	}
}

func bridgeURL() (string, error) {
	u, err := url.Parse(*hostURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("session", *sessionKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func run(ctx context.Context, timeout time.Duration, log zerolog.Logger) error {
	target, err := bridgeURL()
	if err != nil {
		return fmt.Errorf("invalid host url: %w", err)
	}
	conn, err := bridgetransport.Dial(ctx, target, log)
	if err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	defer conn.Close()

	client := bridgerpc.NewClient(conn, log)
	defer client.Close()
	queue := make(chan string, 16)
	client.OnBootstrap(printHistory)
	client.OnEnqueue(func(p bridgerpc.EnqueuePayload) {
		select {
		case queue <- p.Text:
		default:
			log.Warn().Msg("Send queue full, dropping enqueued message")
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := conn.Run(ctx, client.HandleEnvelope)
		if err == nil {
			err = errors.New("host closed the connection")
		}
		return err
	})
	g.Go(func() error {
		if _, err := client.Bootstrap(ctx); err != nil {
			return err
		}
		_ = client.Log(ctx, "webchat-cli attached")
		lines := readLines(ctx)
		for {
			var text string
			select {
			case <-ctx.Done():
				return ctx.Err()
			case text = <-queue:
				fmt.Printf("> %s\n", text)
			case line, ok := <-lines:
				if !ok {
					return context.Canceled
				}
				text = strings.TrimSpace(line)
			}
			if text == "" {
				continue
			}
			if rest, ok := strings.CutPrefix(text, "/log "); ok {
				if err := client.Log(ctx, rest); err != nil {
					return err
				}
				continue
			}
			send(ctx, client, text, timeout)
		}
	})
	return g.Wait()
}

func send(ctx context.Context, client *bridgerpc.Client, text string, timeout time.Duration) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	reply, err := client.Chat(ctx, text)
	var callErr *bridgerpc.CallError
	switch {
	case errors.As(err, &callErr):
		fmt.Printf("! agent error: %s\n", callErr.Message)
	case err != nil:
		fmt.Printf("! %v\n", err)
	default:
		fmt.Printf("assistant: %s\n", reply)
	}
}

func printHistory(boot transcript.Bootstrap) {
	fmt.Printf("Attached to session %s (%d earlier messages)\n", boot.SessionKey, len(boot.InitialMessages))
	for _, msg := range boot.InitialMessages {
		var parts []string
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		fmt.Printf("%s: %s\n", msg.Role, strings.Join(parts, " "))
	}
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
