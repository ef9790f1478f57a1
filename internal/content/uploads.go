package content

import (
	"context"
	"io"
	"mime/multipart"

	"golang.org/x/sync/errgroup"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/doctree"
)

// Upload is one submitted file part.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// FromFileHeader adapts a parsed multipart file part.
func FromFileHeader(fh *multipart.FileHeader) Upload {
	return Upload{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

type partRole int

const (
	roleAttachment partRole = iota
	roleTranscript
	roleVideo
)

type part struct {
	role partRole
	up   Upload
	ref  doctree.FileRef
	err  error
}

// batch is the outcome of storing one submission's parts.
type batch struct {
	attachments map[string]doctree.FileRef
	transcript  *doctree.FileRef
	video       *doctree.FileRef
	failed      []string
	stored      []string
}

// storeParts allocates names and uploads every part. Failed parts are
// omitted and reported; in strict mode the first failure is returned and
// nothing stays stored.
func (s *Service) storeParts(ctx context.Context, attachments []Upload, transcript, video *Upload) (*batch, error) {
	parts := make([]*part, 0, len(attachments)+2)
	for _, up := range attachments {
		parts = append(parts, &part{role: roleAttachment, up: up})
	}
	if transcript != nil {
		parts = append(parts, &part{role: roleTranscript, up: *transcript})
	}
	if video != nil {
		parts = append(parts, &part{role: roleVideo, up: *video})
	}

	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		safe, err := s.alloc.AllocateIn(ctx, p.up.Filename, seen)
		if err != nil {
			p.err = err
			continue
		}
		p.ref = doctree.FileRef{Original: p.up.Filename, Safe: safe}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, p := range parts {
		if p.err != nil {
			continue
		}
		g.Go(func() error {
			p.err = s.put(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	b := &batch{attachments: make(map[string]doctree.FileRef)}
	var firstErr error
	for _, p := range parts {
		if p.err != nil {
			s.log.Warn("content: upload failed", "file", p.up.Filename, "error", p.err)
			b.failed = append(b.failed, p.up.Filename)
			if firstErr == nil {
				firstErr = p.err
			}
			continue
		}
		b.stored = append(b.stored, p.ref.Safe)
		ref := p.ref
		switch p.role {
		case roleAttachment:
			b.attachments[p.up.Filename] = ref
		case roleTranscript:
			b.transcript = &ref
		case roleVideo:
			b.video = &ref
		}
	}

	if firstErr != nil && s.strict {
		s.discardUnreferenced(ctx, b.stored)
		return nil, firstErr
	}
	return b, nil
}

func (s *Service) put(ctx context.Context, p *part) error {
	rc, err := p.up.Open()
	if err != nil {
		return apperr.Storage("open "+p.up.Filename, err)
	}
	defer rc.Close()

	err = s.blobs.Put(ctx, p.ref.Safe, rc, p.up.Size, p.up.ContentType)
	s.metrics.ObserveBlob("put", err)
	if err != nil {
		return apperr.Storage("put "+p.ref.Safe, err)
	}
	return nil
}
