// Package sink delivers newly saved documents to downstream consumers.
package sink

import (
	"context"

	"github.com/jonesrussell/north-cloud/harvester/internal/crawler"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// Fanout calls every sink in order. It satisfies crawler.DocumentSink.
type Fanout []crawler.DocumentSink

// OnDocument passes doc to each sink.
func (f Fanout) OnDocument(ctx context.Context, doc *domain.Document) {
	for _, s := range f {
		if s != nil {
			s.OnDocument(ctx, doc)
		}
	}
}

// Func adapts a function to crawler.DocumentSink.
type Func func(ctx context.Context, doc *domain.Document)

// OnDocument calls f.
func (f Func) OnDocument(ctx context.Context, doc *domain.Document) {
	f(ctx, doc)
}
