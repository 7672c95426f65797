package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cast"

	"github.com/obsgate/backend/internal/client"
	"github.com/obsgate/backend/internal/logging"
	"github.com/obsgate/backend/internal/tui"
)

type subscription struct {
	eventType string
	params    map[string]any
}

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the gateway")
	token := flag.String("token", os.Getenv("OBSGATE_TOKEN"), "Access token")
	logFile := flag.String("log", "", "Write client logs to this file")
	var subs []subscription
	flag.Func("subscribe", "Subscribe on start: type or type?param=value&... (repeatable)", func(s string) error {
		sub, err := parseSubscription(s)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	})
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.File = *logFile
	logger := logging.Discard()
	if *logFile != "" {
		l, closeLog, err := logging.Setup(logCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer closeLog()
		logger = l
	}

	var p *tea.Program
	send := func(msg tea.Msg) { p.Send(msg) }

	ws := client.New(*wsURL, client.Options{
		Token:   *token,
		Logger:  logging.Component(logger, "client"),
		OnState: func(s client.State) { send(tui.StateMsg(s)) },
	})
	m := tui.New(ws, client.NewHTTPClient(deriveHTTPBase(*wsURL), *token), send)
	for _, s := range subs {
		if _, err := ws.Subscribe(s.eventType, s.params, nil, m.Handler()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	p = tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		err := ws.Run(ctx)
		runErr <- err
		if errors.Is(err, client.ErrUnauthorized) {
			p.Quit()
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cancel()
	if err := <-runErr; err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseSubscription reads "wiki.ready?wikiId=w1". Parameter values that look
// numeric or boolean are passed as such.
func parseSubscription(s string) (subscription, error) {
	eventType, query, _ := strings.Cut(s, "?")
	if eventType == "" {
		return subscription{}, fmt.Errorf("empty event type in %q", s)
	}
	sub := subscription{eventType: eventType}
	if query == "" {
		return sub, nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return subscription{}, fmt.Errorf("parse params of %q: %w", s, err)
	}
	sub.params = make(map[string]any, len(values))
	for k, v := range values {
		sub.params[k] = typed(v[0])
	}
	return sub, nil
}

func typed(v string) any {
	if f, err := cast.ToFloat64E(v); err == nil {
		return f
	}
	if b, err := cast.ToBoolE(v); err == nil {
		return b
	}
	return v
}

// deriveHTTPBase converts ws://host:port/ws to http://host:port.
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
