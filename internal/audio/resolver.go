// Package audio turns a generation record into playable bytes and a MIME
// type, trying each storage representation in priority order.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/broadcast-dispatch/internal/metrics"
	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
	"github.com/LeventeLantos/broadcast-dispatch/internal/storage"
)

var ErrUnavailable = errors.New("audio unavailable")

var errNotPresent = errors.New("not present")

type Source string

const (
	SourceDataURL Source = "data_url"
	SourceRemote  Source = "remote_url"
	SourceObject  Source = "object_storage"
	SourceBlob    Source = "blob"
)

type GenerationStore interface {
	GetGeneration(ctx context.Context, id string) (*model.Generation, error)
}

type ObjectStore interface {
	Get(ctx context.Context, key string) (*storage.Object, error)
}

type Audio struct {
	Data     []byte
	MIMEType string
	Source   Source
}

type Options struct {
	// HTTPTimeout bounds each remote fetch. Default 30s.
	HTTPTimeout time.Duration
	// MaxBytes bounds a remote body. Default storage.MaxObjectBytes.
	MaxBytes   int64
	HTTPClient *http.Client
}

type Resolver struct {
	generations GenerationStore
	objects     ObjectStore
	httpClient  *http.Client
	maxBytes    int64
	log         zerolog.Logger
}

// NewResolver builds a resolver. objects may be nil when no object storage
// is configured; storage keys are then skipped.
func NewResolver(generations GenerationStore, objects ObjectStore, log zerolog.Logger, opts Options) *Resolver {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = storage.MaxObjectBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.HTTPTimeout}
	}
	return &Resolver{
		generations: generations,
		objects:     objects,
		httpClient:  hc,
		maxBytes:    opts.MaxBytes,
		log:         log,
	}
}

type candidate struct {
	data []byte
	// hints in priority order after the declared type
	hints []string
}

type attempt struct {
	source Source
	fn     func(ctx context.Context, g *model.Generation) (*candidate, error)
}

// Resolve returns the first representation of the generation that yields
// non-empty bytes. Errors wrap ErrUnavailable together with every
// per-source cause.
func (r *Resolver) Resolve(ctx context.Context, generationID string) (*Audio, error) {
	gen, err := r.generations.GetGeneration(ctx, generationID)
	if err != nil {
		return nil, fmt.Errorf("%w: generation %s: %w", ErrUnavailable, generationID, err)
	}

	attempts := []attempt{
		{SourceDataURL, r.fromDataURL},
		{SourceRemote, r.fromRemote},
		{SourceObject, r.fromObjectStore},
		{SourceBlob, r.fromBlob},
	}

	var causes []error
	for _, a := range attempts {
		c, err := a.fn(ctx, gen)
		if errors.Is(err, errNotPresent) {
			continue
		}
		if err != nil {
			r.log.Debug().Err(err).Str("generation_id", gen.ID).Str("source", string(a.source)).Msg("audio source failed")
			causes = append(causes, fmt.Errorf("%s: %w", a.source, err))
			continue
		}
		if len(c.data) == 0 {
			causes = append(causes, fmt.Errorf("%s: empty payload", a.source))
			continue
		}

		hints := append([]string{gen.DeclaredMIME()}, c.hints...)
		hints = append(hints, Sniff(c.data))
		metrics.AudioSource.WithLabelValues(string(a.source)).Inc()

		return &Audio{
			Data:     c.data,
			MIMEType: ResolveMIME(hints...),
			Source:   a.source,
		}, nil
	}

	if len(causes) == 0 {
		return nil, fmt.Errorf("%w: generation %s has no audio representation", ErrUnavailable, gen.ID)
	}
	return nil, fmt.Errorf("%w: generation %s: %w", ErrUnavailable, gen.ID, errors.Join(causes...))
}

func (r *Resolver) fromDataURL(_ context.Context, g *model.Generation) (*candidate, error) {
	u, ok := g.DataURL()
	if !ok {
		return nil, errNotPresent
	}
	data, mediaType, err := ParseDataURL(u)
	if err != nil {
		return nil, err
	}
	return &candidate{data: data, hints: []string{mediaType}}, nil
}

func (r *Resolver) fromRemote(ctx context.Context, g *model.Generation) (*candidate, error) {
	u, ok := g.RemoteURL()
	if !ok {
		return nil, errNotPresent
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", u, r.maxBytes)
	}

	return &candidate{
		data:  data,
		hints: []string{resp.Header.Get("Content-Type"), TypeFromPath(u)},
	}, nil
}

func (r *Resolver) fromObjectStore(ctx context.Context, g *model.Generation) (*candidate, error) {
	key := g.Key()
	if key == "" {
		return nil, errNotPresent
	}
	if r.objects == nil {
		return nil, errors.New("no object store configured")
	}
	obj, err := r.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &candidate{data: obj.Data, hints: []string{obj.ContentType, TypeFromPath(key)}}, nil
}

func (r *Resolver) fromBlob(_ context.Context, g *model.Generation) (*candidate, error) {
	if len(g.AudioData) == 0 {
		return nil, errNotPresent
	}
	data, decoder, ok := DecodeBlob(g.AudioData)
	if !ok {
		return nil, errors.New("blob could not be decoded")
	}
	r.log.Debug().Str("generation_id", g.ID).Str("decoder", decoder).Int("bytes", len(data)).Msg("blob decoded")
	return &candidate{data: data}, nil
}
