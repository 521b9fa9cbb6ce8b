// Package upload holds exactly one selected image per user, renders its preview and
// submits it to the classifier at most once at a time.
package upload

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/boneguard/internal/analysis"
)

// ErrSubmitInFlight is returned by Submit while an earlier submission is still running.
var ErrSubmitInFlight = errors.New("an analysis is already in progress")

// State is the controller's position in Idle -> FileSelected -> Submitting.
type State int

const (
	Idle State = iota
	FileSelected
	Submitting
)

func (s State) String() string {
	switch s {
	case FileSelected:
		return "file_selected"
	case Submitting:
		return "submitting"
	default:
		return "idle"
	}
}

// Candidate is a file offered for selection.
type Candidate struct {
	Name        string
	ContentType string
	Data        []byte
}

// Classifier turns a selection into a normalized result.
type Classifier interface {
	Classify(ctx context.Context, selection analysis.UploadSelection) (analysis.ClassificationResult, error)
}

// Options tunes a Controller. Zero values disable the corresponding limit.
type Options struct {
	// SubmitTimeout bounds a whole submission.
	SubmitTimeout time.Duration
	// PreviewMaxDimension downsizes larger previews to fit this many pixels.
	PreviewMaxDimension int
}

// Controller is safe for concurrent use.
type Controller struct {
	classifier Classifier
	logger     *zap.Logger
	opts       Options

	mu        sync.Mutex
	selection *analysis.UploadSelection
	preview   *previewJob
	inFlight  bool
	lastErr   error
}

type previewJob struct {
	done chan struct{}
	uri  string
}

// New builds an idle controller.
func New(classifier Classifier, logger *zap.Logger, opts Options) *Controller {
	return &Controller{
		classifier: classifier,
		logger:     logger.Named("upload_controller"),
		opts:       opts,
	}
}

// SelectFile replaces the current selection with candidate. Candidates whose
// declared type is not JPEG or PNG are ignored and false is returned.
func (c *Controller) SelectFile(candidate Candidate) bool {
	if !analysis.AllowedContentType(candidate.ContentType) {
		c.logger.Debug("ignoring unsupported file type",
			zap.String("file_name", candidate.Name),
			zap.String("content_type", candidate.ContentType),
		)
		return false
	}

	selection := analysis.UploadSelection{
		FileName:    candidate.Name,
		ContentType: candidate.ContentType,
		Data:        bytes.Clone(candidate.Data),
	}
	job := &previewJob{done: make(chan struct{})}

	c.mu.Lock()
	c.selection = &selection
	c.preview = job
	c.lastErr = nil
	c.mu.Unlock()

	go func() {
		job.uri = renderPreview(selection, c.opts.PreviewMaxDimension, c.logger)
		close(job.done)
	}()
	return true
}

// ClearSelection drops the selection and its preview.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = nil
	c.preview = nil
	c.lastErr = nil
}

// Preview waits for the current selection's data URI. It returns "" when nothing is selected.
func (c *Controller) Preview(ctx context.Context) (string, error) {
	c.mu.Lock()
	job := c.preview
	c.mu.Unlock()
	if job == nil {
		return "", nil
	}
	return job.wait(ctx)
}

func (j *previewJob) wait(ctx context.Context) (string, error) {
	select {
	case <-j.done:
		return j.uri, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Selection returns a copy of the current selection.
func (c *Controller) Selection() (analysis.UploadSelection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil {
		return analysis.UploadSelection{}, false
	}
	return *c.selection, true
}

// State reports where the controller currently is.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inFlight:
		return Submitting
	case c.selection != nil:
		return FileSelected
	default:
		return Idle
	}
}

// InFlight reports whether a submission is running.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// LastError returns the failure of the most recent submission, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Submit classifies the current selection.
//
// With nothing selected it returns (nil, nil) without contacting the classifier. While
// another submission runs it returns ErrSubmitInFlight. The submission is detached
// from ctx's cancellation and bounded by Options.SubmitTimeout instead. On success the
// controller returns to Idle and the handoff for the result view is returned; on
// failure the selection is kept and the error is returned and remembered.
func (c *Controller) Submit(ctx context.Context) (*analysis.Handoff, error) {
	c.mu.Lock()
	if c.selection == nil {
		c.mu.Unlock()
		return nil, nil
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	c.inFlight = true
	c.lastErr = nil
	current := c.selection
	selection := *current
	job := c.preview
	c.mu.Unlock()

	var (
		handoff *analysis.Handoff
		err     error
	)
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.inFlight = false
		if err != nil {
			c.lastErr = err
			return
		}
		if handoff != nil && c.selection == current {
			c.selection = nil
			c.preview = nil
		}
	}()

	submitCtx := context.WithoutCancel(ctx)
	if c.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(submitCtx, c.opts.SubmitTimeout)
		defer cancel()
	}

	result, err := c.classifier.Classify(submitCtx, selection)
	if err != nil {
		c.logger.Warn("submission failed", zap.String("file_name", selection.FileName), zap.Error(err))
		return nil, err
	}

	image, previewErr := job.wait(submitCtx)
	if previewErr != nil {
		c.logger.Warn("preview not ready at handoff", zap.Error(previewErr))
	}
	handoff = &analysis.Handoff{Result: result, Image: image}
	return handoff, nil
}
