package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase names the point in a run at which a screenshot was taken.
type Phase string

const (
	PhasePreSubmission    Phase = "pre-submission"
	PhasePostConfirmation Phase = "post-confirmation"
	PhaseFailure          Phase = "failure"
)

// Metadata keys attached to every artifact.
const (
	MetaTaskID          = "task-id"
	MetaPhase           = "phase"
	MetaSelectorVersion = "selector-version"
	MetaSHA256          = "sha256"
)

// DefaultPrefix is the top-level key segment for evidence.
const DefaultPrefix = "vault"

// Artifact references one uploaded screenshot.
type Artifact struct {
	Key             string    `json:"key"`
	TaskID          string    `json:"task_id"`
	Phase           Phase     `json:"phase"`
	SelectorVersion string    `json:"selector_version,omitempty"`
	SHA256          string    `json:"sha256"`
	Size            int64     `json:"size_bytes"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Recorder uploads screenshots under vault/{taskId}/{phase}-{timestamp}.png,
// where timestamp is Unix milliseconds.
type Recorder struct {
	store  Store
	prefix string
	now    func() time.Time
}

// NewRecorder wraps store. An empty prefix means DefaultPrefix.
func NewRecorder(store Store, prefix string) *Recorder {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Recorder{store: store, prefix: prefix, now: time.Now}
}

// WithClock replaces the time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Key builds the object key for a capture.
func (r *Recorder) Key(taskID string, phase Phase, at time.Time) string {
	return r.prefix + "/" + taskID + "/" + string(phase) + "-" + strconv.FormatInt(at.UTC().UnixMilli(), 10) + ".png"
}

// Capture uploads png and returns its reference.
func (r *Recorder) Capture(ctx context.Context, taskID string, phase Phase, selectorVersion string, png []byte) (Artifact, error) {
	if taskID == "" {
		return Artifact{}, fmt.Errorf("capture %s: empty task id", phase)
	}
	at := r.now().UTC()
	sum := sha256.Sum256(png)
	digest := hex.EncodeToString(sum[:])
	key := r.Key(taskID, phase, at)

	_, err := r.store.Put(ctx, key, bytes.NewReader(png), int64(len(png)), PutOptions{
		ContentType: "image/png",
		Metadata: map[string]string{
			MetaTaskID:          taskID,
			MetaPhase:           string(phase),
			MetaSelectorVersion: selectorVersion,
			MetaSHA256:          digest,
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload %s evidence: %w", phase, err)
	}
	return Artifact{
		Key:             key,
		TaskID:          taskID,
		Phase:           phase,
		SelectorVersion: selectorVersion,
		SHA256:          digest,
		Size:            int64(len(png)),
		CapturedAt:      at,
	}, nil
}
