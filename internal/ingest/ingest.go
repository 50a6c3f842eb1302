// Package ingest turns attached files into request payload fragments.
//
// Every eligible file is read concurrently; results land in per-index
// slots so the aggregated output follows attachment order, not the order
// the reads happen to finish in. A single unreadable file is logged and
// contributes nothing; it never fails the batch.
package ingest

import (
	"context"
	"encoding/base64"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/attach"
)

// Kind classifies what an attached file contributes to the request.
type Kind int

const (
	KindSkip Kind = iota
	KindText
	KindImage
)

// Classify applies the eligibility rules: text-like MIME or .txt/.md name
// suffix reads as text, image MIME reads as base64, anything else is
// skipped but still counted toward completion.
func Classify(f attach.File) Kind {
	switch {
	case strings.HasPrefix(f.MimeType, "text/"),
		f.MimeType == "application/json",
		strings.HasSuffix(f.Name, ".txt"),
		strings.HasSuffix(f.Name, ".md"):
		return KindText
	case strings.HasPrefix(f.MimeType, "image/"):
		return KindImage
	default:
		return KindSkip
	}
}

// Content is the aggregated result of one ingestion pass.
type Content struct {
	TextFragments []string
	Images        []string
}

// JoinedText joins the text fragments with CRLF, the separator the
// backend expects between inlined file contents.
func (c *Content) JoinedText() string {
	return strings.Join(c.TextFragments, "\r\n")
}

// Empty reports whether the pass produced no content at all.
func (c *Content) Empty() bool {
	return len(c.TextFragments) == 0 && len(c.Images) == 0
}

type slot struct {
	kind Kind
	text string
	img  string
	ok   bool
}

// Read ingests the files concurrently and aggregates in attachment order.
// Zero files returns an empty Content without starting any reads.
func Read(ctx context.Context, files []attach.File, log *zap.Logger) *Content {
	content := &Content{}
	if len(files) == 0 {
		return content
	}

	slots := make([]slot, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		kind := Classify(f)
		slots[i].kind = kind
		if kind == KindSkip {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			data, err := os.ReadFile(f.Path)
			if err != nil {
				// Degrade: the file contributes nothing but the
				// batch completes.
				log.Warn("read attachment failed",
					zap.String("file", f.Name), zap.Error(err))
				return nil
			}
			switch kind {
			case KindText:
				slots[i].text = string(data)
			case KindImage:
				slots[i].img = base64.StdEncoding.EncodeToString(data)
			}
			slots[i].ok = true
			return nil
		})
	}
	// Readers never return errors; Wait is the completion barrier.
	_ = g.Wait()

	for _, s := range slots {
		if !s.ok {
			continue
		}
		switch s.kind {
		case KindText:
			content.TextFragments = append(content.TextFragments, s.text)
		case KindImage:
			content.Images = append(content.Images, s.img)
		}
	}
	return content
}
