// Package processing turns an uploaded recording into transcript, summary and title.
package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/posnetek/backend/internal/models"
	"github.com/posnetek/backend/internal/recordings"
	"github.com/posnetek/backend/pkg/redis"
	"github.com/posnetek/backend/pkg/storage"
)

var (
	// ErrProcessingFailed wraps any pipeline failure after the recording was loaded.
	ErrProcessingFailed = errors.New("processing failed")
	// ErrAlreadyProcessing is returned when another instance holds the recording's processing lock.
	ErrAlreadyProcessing = errors.New("recording is already being processed")
)

// Store is the recording persistence the processor needs.
type Store interface {
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Recording, error)
	Update(ctx context.Context, userID, id uuid.UUID, patch models.RecordingPatch) (*models.Recording, error)
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, status string) error
}

// URLSigner issues short-lived download URLs for stored audio.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error)
}

// Writer generates a summary and a title from transcript text.
type Writer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Title(ctx context.Context, text string) (string, error)
}

// Locker guards a recording across server instances.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*redis.Lock, error)
}

// Notifier is told about terminal status changes.
type Notifier interface {
	NotifyStatus(userID, recordingID uuid.UUID, status string)
}

// Options configures the pipeline.
type Options struct {
	// HeaderExtraction strips a "company, person" header line before summarizing.
	HeaderExtraction bool
	// Timeout bounds one pipeline run; zero means no bound.
	Timeout time.Duration
	// LockTTL is how long a cross-instance lock may be held.
	LockTTL time.Duration
}

// Result is what a processing run reports back to the caller.
type Result struct {
	RecordingID uuid.UUID `json:"recordingId"`
	Status      string    `json:"status"`
	Transcript  string    `json:"transcript"`
	Summary     string    `json:"summary"`
	Title       string    `json:"title"`
}

// Processor runs the fetch, transcribe, summarize and persist pipeline. At most one run per
// recording is active in a process; concurrent triggers share the running result.
type Processor struct {
	store       Store
	signer      URLSigner
	transcriber Transcriber
	writer      Writer
	httpClient  *http.Client
	opts        Options
	locker      Locker
	notifier    Notifier
	flight      singleflight.Group
	logger      *zap.Logger
}

// NewProcessor creates a processor. A nil httpClient uses http.DefaultClient.
func NewProcessor(store Store, signer URLSigner, transcriber Transcriber, writer Writer, httpClient *http.Client, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	return &Processor{
		store:       store,
		signer:      signer,
		transcriber: transcriber,
		writer:      writer,
		httpClient:  httpClient,
		opts:        opts,
		logger:      logger,
	}
}

// SetLocker enables the cross-instance guard (optional).
func (p *Processor) SetLocker(l Locker) { p.locker = l }

// SetNotifier sets the optional status change notifier.
func (p *Processor) SetNotifier(n Notifier) { p.notifier = n }

// Process runs the pipeline for a recording owned by userID. Completed recordings are returned
// unchanged without calling any upstream service. The run is not cancelled when ctx is.
func (p *Processor) Process(ctx context.Context, userID, recordingID uuid.UUID) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	key := userID.String() + ":" + recordingID.String()
	v, err, shared := p.flight.Do(key, func() (interface{}, error) {
		return p.run(ctx, userID, recordingID)
	})
	if shared {
		p.logger.Debug("joined in-flight processing run", zap.String("recording_id", recordingID.String()))
	}
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

func (p *Processor) run(ctx context.Context, userID, recordingID uuid.UUID) (*Result, error) {
	rec, err := p.store.GetByID(ctx, userID, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, recordings.ErrNotFound
	}
	if rec.Status == models.RecordingStatusCompleted {
		return resultFrom(rec), nil
	}

	if p.locker != nil {
		lock, err := p.locker.Acquire(ctx, recordingID.String(), p.opts.LockTTL)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			return nil, ErrAlreadyProcessing
		case err != nil:
			p.logger.Warn("processing lock unavailable, continuing unguarded", zap.Error(err), zap.String("recording_id", recordingID.String()))
		default:
			defer func() {
				if err := lock.Release(ctx); err != nil {
					p.logger.Warn("release processing lock failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
				}
			}()
			// Another instance may have completed the run between the first read and the lock.
			rec, err = p.store.GetByID(ctx, userID, recordingID)
			if err != nil {
				return nil, err
			}
			if rec.Status == models.RecordingStatusCompleted {
				return resultFrom(rec), nil
			}
		}
	}

	runCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := p.pipeline(runCtx, rec)
	if err != nil {
		p.logger.Error("processing failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		if uerr := p.store.UpdateStatus(ctx, userID, recordingID, models.RecordingStatusFailed); uerr != nil {
			p.logger.Error("failed to mark recording failed", zap.Error(uerr), zap.String("recording_id", recordingID.String()))
		} else {
			p.notify(userID, recordingID, models.RecordingStatusFailed)
		}
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}
	p.logger.Info("recording processed", zap.String("recording_id", recordingID.String()), zap.Duration("took", time.Since(started)))
	p.notify(userID, recordingID, models.RecordingStatusCompleted)
	return res, nil
}

func (p *Processor) pipeline(ctx context.Context, rec *models.Recording) (*Result, error) {
	if rec.R2Key == "" {
		return nil, errors.New("recording has no stored audio")
	}
	url, err := p.signer.SignedURL(ctx, rec.R2Key, storage.SignedURLTTLInternal)
	if err != nil {
		return nil, err
	}
	audio, contentType, err := p.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = storage.ContentTypeForKey(rec.R2Key)
	}

	transcript, err := p.transcriber.Transcribe(ctx, audio, audioFilename(rec.R2Key), contentType)
	if err != nil {
		return nil, err
	}

	body := transcript
	var company, person *string
	if p.opts.HeaderExtraction {
		h, ok := recordings.SafeParseHeader(transcript)
		if !ok {
			p.logger.Warn("header extraction failed, using full transcript", zap.String("recording_id", rec.ID.String()))
		}
		body, company, person = h.Body, h.Company, h.Person
	}

	var summary, title string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary, err = p.writer.Summarize(gctx, body)
		return err
	})
	g.Go(func() (err error) {
		title, err = p.writer.Title(gctx, body)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	completed := models.RecordingStatusCompleted
	language := models.DefaultLanguage
	patch := models.RecordingPatch{
		Status:          &completed,
		Transcript:      &transcript,
		TranscriptBody:  &body,
		Summary:         &summary,
		Language:        &language,
		SetClientFields: true,
		ClientCompany:   company,
		ClientPerson:    person,
	}
	res := &Result{
		RecordingID: rec.ID,
		Status:      completed,
		Transcript:  transcript,
		Summary:     summary,
		Title:       rec.Title,
	}
	if rec.HasPlaceholderTitle() {
		t := TruncateTitle(title)
		patch.Title = &t
		res.Title = t
	}
	if _, err := p.store.Update(ctx, rec.UserID, rec.ID, patch); err != nil {
		return nil, err
	}
	return res, nil
}

// fetch downloads the audio behind a signed URL and returns its declared content type.
func (p *Processor) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	return audio, resp.Header.Get("Content-Type"), nil
}

func (p *Processor) notify(userID, recordingID uuid.UUID, status string) {
	if p.notifier != nil {
		p.notifier.NotifyStatus(userID, recordingID, status)
	}
}

// TruncateTitle caps a generated title at models.MaxTitleLength characters.
func TruncateTitle(title string) string {
	r := []rune(title)
	if len(r) <= models.MaxTitleLength {
		return title
	}
	return string(r[:models.MaxTitleLength])
}

func audioFilename(key string) string {
	name := path.Base(key)
	if name == "." || name == "/" || name == "" {
		return "audio"
	}
	return name
}

func resultFrom(rec *models.Recording) *Result {
	return &Result{
		RecordingID: rec.ID,
		Status:      rec.Status,
		Transcript:  rec.Transcript,
		Summary:     rec.Summary,
		Title:       rec.Title,
	}
}
