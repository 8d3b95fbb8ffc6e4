// Command expowatch follows booking activity of one or more expos over the
// push channel and prints every update as a JSON line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"expo-booking-backend/internal/auth"
	"expo-booking-backend/internal/channel"
	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/logger"
	"expo-booking-backend/internal/resync"
	"expo-booking-backend/internal/wire"
)

type options struct {
	wsURL       string
	apiURL      string
	token       string
	secret      string
	user        string
	expos       []string
	topics      []string
	heartbeat   time.Duration
	backoff     time.Duration
	maxAttempts int
	logLevel    string
}

func main() {
	var o options
	flag.StringVar(&o.wsURL, "url", "ws://localhost:8080/api/ws", "push channel websocket URL")
	flag.StringVar(&o.apiURL, "api", "http://localhost:8080/api", "REST API base URL used to resync after reconnects")
	flag.StringVar(&o.token, "token", os.Getenv("EXPO_TOKEN"), "bearer token")
	flag.StringVar(&o.secret, "secret", "", "sign a short-lived token with this secret instead of --token")
	flag.StringVar(&o.user, "user", "expowatch", "subject of the token signed with --secret")
	flag.StringSliceVarP(&o.expos, "expo", "e", nil, "expo id to follow (repeatable)")
	flag.StringSliceVarP(&o.topics, "topic", "t", nil, "extra topic, e.g. a booth or session id (repeatable)")
	flag.DurationVar(&o.heartbeat, "heartbeat", 30*time.Second, "ping interval")
	flag.DurationVar(&o.backoff, "reconnect-base", time.Second, "first reconnect delay")
	flag.IntVar(&o.maxAttempts, "reconnect-attempts", 5, "reconnect attempts before giving up")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level")
	flag.Parse()

	log, err := logger.New(o.logLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(o, os.Stdout, log); err != nil {
		fmt.Fprintln(os.Stderr, "expowatch:", err)
		os.Exit(1)
	}
}

func run(o options, out io.Writer, log *zap.Logger) error {
	if len(o.expos) == 0 && len(o.topics) == 0 {
		return fmt.Errorf("nothing to watch: pass --expo or --topic")
	}
	if o.secret != "" {
		tok, err := auth.NewVerifier(o.secret, "").Issue(o.user, auth.RoleAttendee, 24*time.Hour)
		if err != nil {
			return err
		}
		o.token = tok
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := channel.New(channel.Config{
		URL:           o.wsURL,
		Token:         o.token,
		Heartbeat:     o.heartbeat,
		ReconnectBase: o.backoff,
		MaxAttempts:   o.maxAttempts,
	}, channel.WithLogger(log))

	p := &printer{enc: json.NewEncoder(out)}
	for _, t := range []wire.Type{wire.TypeBoothUpdate, wire.TypeSessionUpdate} {
		client.On(channel.FrameKey(t), func(m channel.Message) {
			p.print("update", m.Update)
		})
	}
	client.On(channel.FrameKey(wire.TypeNotification), func(m channel.Message) {
		p.print("notification", m.Payload)
	})
	client.On(channel.EventKey(event.KindPromoted), func(m channel.Message) {
		// Holder ids only arrive on the watcher's own user topic.
		if m.Update.HolderID != "" {
			log.Info("promoted off the waitlist", zap.String("resource", m.Update.ResourceID))
			return
		}
		log.Info("waitlist promotion", zap.String("resource", m.Update.ResourceID))
	})
	client.On(channel.KeyReconnecting, func(m channel.Message) {
		p.print("reconnecting", map[string]any{"attempt": m.Attempt, "delay": m.Delay.String()})
	})

	failed := make(chan struct{})
	var once sync.Once
	client.On(channel.KeyReconnectFailed, func(channel.Message) {
		once.Do(func() { close(failed) })
	})

	resync.Attach(client, resync.NewFetcher(o.apiURL, o.token, nil), o.expos, func(snaps []resync.Snapshot) {
		p.print("snapshot", snaps)
	}, log)

	client.Subscribe(append(append([]string{}, o.expos...), o.topics...)...)
	if err := client.Connect(ctx); err != nil {
		log.Warn("initial connect failed, retrying", zap.Error(err))
	}
	defer client.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-failed:
		return fmt.Errorf("gave up reconnecting to %s", o.wsURL)
	}
}

// printer serialises output from concurrent handlers.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printer) print(kind string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enc.Encode(map[string]any{"type": kind, "at": time.Now().Format(time.RFC3339Nano), "data": v})
}
