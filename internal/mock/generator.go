// Package mock publishes synthetic wiki and document events so clients can
// be developed against a gateway with no real event source.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/publish"
)

type mockWiki struct {
	id     string
	spaces []string
	locale string
}

var wikis = []mockWiki{
	{id: "xwiki", spaces: []string{"Main", "Sandbox", "Help"}, locale: "en"},
	{id: "intranet", spaces: []string{"HR", "Engineering"}, locale: "de"},
	{id: "docs", spaces: []string{"API", "Guides"}},
}

var pages = []string{"WebHome", "Roadmap", "Onboarding", "ReleaseNotes", "Glossary"}

var authors = []string{"XWiki.Admin", "XWiki.alice", "XWiki.bob"}

var documentKinds = []string{event.KindDocumentCreated, event.KindDocumentUpdated, event.KindDocumentUpdated, event.KindDocumentDeleted}

type Generator struct {
	publisher publish.Publisher
	interval  time.Duration
	logger    *slog.Logger
	rng       *rand.Rand

	announced bool
	versions  map[string]int
}

func NewGenerator(publisher publish.Publisher, interval time.Duration, logger *slog.Logger) *Generator {
	return &Generator{
		publisher: publisher,
		interval:  interval,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		versions:  make(map[string]int),
	}
}

// Start runs until ctx is done.
func (g *Generator) Start(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		for _, env := range g.next() {
			if err := g.publisher.Publish(ctx, env); err != nil {
				g.logger.Warn("mock publish failed", "type", env.Type, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// next returns the envelopes for one tick: every wiki becomes ready on the
// first tick, then one document changes per tick.
func (g *Generator) next() []publish.Envelope {
	if !g.announced {
		g.announced = true
		out := make([]publish.Envelope, 0, len(wikis))
		for _, w := range wikis {
			out = append(out, publish.Envelope{
				Type:   event.KindWikiReady,
				Params: map[string]any{"wikiId": w.id},
				Source: mustJSON(w.id),
			})
		}
		return out
	}

	w := wikis[g.rng.Intn(len(wikis))]
	space := w.spaces[g.rng.Intn(len(w.spaces))]
	ref := fmt.Sprintf("%s:%s.%s", w.id, space, pages[g.rng.Intn(len(pages))])
	kind := documentKinds[g.rng.Intn(len(documentKinds))]

	v := g.versions[ref]
	switch kind {
	case event.KindDocumentCreated:
		v = 1
	case event.KindDocumentUpdated:
		v++
	case event.KindDocumentDeleted:
		v = 0
	}
	g.versions[ref] = v

	author := authors[g.rng.Intn(len(authors))]
	return []publish.Envelope{{
		Type:   kind,
		Params: map[string]any{"reference": ref},
		Source: mustJSON(map[string]any{
			"reference": ref,
			"locale":    w.locale,
			"version":   fmt.Sprintf("%d.1", v),
			"author":    author,
		}),
		Data: mustJSON(map[string]any{"author": author, "version": v}),
	}}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
