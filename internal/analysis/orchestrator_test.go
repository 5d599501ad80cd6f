package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/instructgen/internal/gateway"
	"github.com/lehigh-university-libraries/instructgen/internal/models"
	"github.com/lehigh-university-libraries/instructgen/internal/providers"
	"github.com/lehigh-university-libraries/instructgen/internal/session"
)

// scriptedProvider answers caption calls (one image) with caption and diff
// calls (two images) with the entry for the edition's bytes.
type scriptedProvider struct {
	mu         sync.Mutex
	caption    string
	captionErr error
	diffs      map[string]string
	diffErrs   map[string]error
	calls      []string

	// gate, when set, blocks every call until it is closed
	gate chan struct{}
	// barrier, when > 0, holds diff calls until that many are in flight
	barrier  int
	arrived  int
	released chan struct{}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) GenerateText(ctx context.Context, config providers.Config) (string, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	images := config.Images()
	if len(images) == 1 {
		p.record("caption")
		return p.caption, p.captionErr
	}

	raw, _ := base64.StdEncoding.DecodeString(images[1].Data)
	key := strings.TrimPrefix(string(raw), string(pngHeader))
	p.record("diff:" + key)

	if p.barrier > 0 {
		p.mu.Lock()
		p.arrived++
		if p.arrived == p.barrier {
			close(p.released)
		}
		p.mu.Unlock()
		select {
		case <-p.released:
		case <-time.After(2 * time.Second):
			return "", errors.New("diff calls were not issued concurrently")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.diffErrs[key]; err != nil {
		return "", err
	}
	return p.diffs[key], nil
}

func (p *scriptedProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *scriptedProvider) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func img(name string) models.UploadedImage {
	return models.UploadedImage{
		Filename: name + ".jpg",
		MimeType: "image/png",
		Data:     append(append([]byte{}, pngHeader...), name...),
	}
}

func newSession(t *testing.T, editions ...string) *session.Session {
	t.Helper()
	sess := session.New("test")
	sess.SetOriginal(img("beach"))
	for _, name := range editions {
		ed := img(name)
		ed.ID = name
		if _, err := sess.AddEdition(ed); err != nil {
			t.Fatalf("failed to add edition %s: %v", name, err)
		}
	}
	return sess
}

func newOrchestrator(p *scriptedProvider) *Orchestrator {
	return New(gateway.New(p, gateway.Options{Model: "test-model"}))
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not settle")
	}
}

func TestRunBeachScenario(t *testing.T) {
	p := &scriptedProvider{
		caption: "A sandy beach at sunset with two palm trees.",
		diffs: map[string]string{
			"edition1": "Add a red umbrella in the left foreground. Change the sky color from orange to pink.",
		},
	}
	sess := newSession(t, "edition1")

	result, err := newOrchestrator(p).Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := sess.Snapshot()
	if snap.Status != models.StatusComplete {
		t.Fatalf("Expected COMPLETE, got %s", snap.Status)
	}
	if snap.OriginalDescription != "A sandy beach at sunset with two palm trees." {
		t.Errorf("unexpected description %q", snap.OriginalDescription)
	}
	if len(snap.Results) != 1 || snap.Results[0].EditionID != "edition1" {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	want := "Add a red umbrella in the left foreground. Change the sky color from orange to pink."
	if snap.Results[0].Instructions != want || result.Instructions["edition1"] != want {
		t.Errorf("unexpected instructions %q", snap.Results[0].Instructions)
	}
}

func TestRunTransitionsThroughAnalyzing(t *testing.T) {
	p := &scriptedProvider{
		caption: "A street.",
		diffs:   map[string]string{"e1": "Remove the car.", "e2": "Add snow.", "e3": "Crop to the left half."},
		gate:    make(chan struct{}),
	}
	sess := newSession(t, "e1", "e2", "e3")
	if sess.Status() != models.StatusIdle {
		t.Fatalf("Expected IDLE before the run, got %s", sess.Status())
	}

	done, err := newOrchestrator(p).Start(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status() != models.StatusAnalyzing {
		t.Errorf("Expected ANALYZING during the run, got %s", sess.Status())
	}
	close(p.gate)
	waitFor(t, done)

	snap := sess.Snapshot()
	if snap.Status != models.StatusComplete {
		t.Fatalf("Expected COMPLETE, got %s", snap.Status)
	}
	if len(snap.Results) != 3 {
		t.Fatalf("Expected one result per edition, got %d", len(snap.Results))
	}
	for _, r := range snap.Results {
		if r.Instructions != p.diffs[r.EditionID] {
			t.Errorf("edition %s got %q, want %q", r.EditionID, r.Instructions, p.diffs[r.EditionID])
		}
	}

	calls := p.recorded()
	if calls[0] != "caption" {
		t.Errorf("captioning must come first, got order %v", calls)
	}
}

func TestRunCaptionFailureIsFatal(t *testing.T) {
	p := &scriptedProvider{
		captionErr: errors.New("API key not valid"),
		diffs:      map[string]string{"e1": "Add a hat.", "e2": "Remove the dog."},
	}
	sess := newSession(t, "e1", "e2")

	_, err := newOrchestrator(p).Run(context.Background(), sess)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("Expected ErrAnalysisFailed, got %v", err)
	}
	var svcErr *gateway.ServiceError
	if !errors.As(err, &svcErr) {
		t.Errorf("Expected the service error to be wrapped, got %v", err)
	}

	snap := sess.Snapshot()
	if snap.Status != models.StatusError {
		t.Errorf("Expected ERROR, got %s", snap.Status)
	}
	if snap.OriginalDescription != "" || len(snap.Results) != 0 {
		t.Errorf("Expected no partial results, got %q / %+v", snap.OriginalDescription, snap.Results)
	}
	if snap.Error == "" {
		t.Error("Expected an error message on the snapshot")
	}
	if calls := p.recorded(); len(calls) != 1 {
		t.Errorf("Expected no edition calls after a caption failure, got %v", calls)
	}
}

func TestRunEncodingFailureOnOriginalIsFatal(t *testing.T) {
	p := &scriptedProvider{caption: "unused"}
	sess := session.New("enc")
	sess.SetOriginal(models.UploadedImage{Filename: "broken.jpg"})
	if _, err := sess.AddEdition(img("e1")); err != nil {
		t.Fatal(err)
	}

	if _, err := newOrchestrator(p).Run(context.Background(), sess); !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("Expected ErrAnalysisFailed, got %v", err)
	}
	if sess.Status() != models.StatusError {
		t.Errorf("Expected ERROR, got %s", sess.Status())
	}
	if len(p.recorded()) != 0 {
		t.Errorf("Expected no model calls, got %v", p.recorded())
	}
}

func TestRunEditionFailureIsContained(t *testing.T) {
	p := &scriptedProvider{
		caption:  "A kitchen.",
		diffs:    map[string]string{"e1": "Paint the cabinets blue.", "e3": "Add a plant on the counter."},
		diffErrs: map[string]error{"e2": errors.New("500 internal error")},
	}
	sess := newSession(t, "e1", "e2", "e3")

	if _, err := newOrchestrator(p).Run(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := sess.Snapshot()
	if snap.Status != models.StatusComplete || snap.OriginalDescription != "A kitchen." {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	got := map[string]string{}
	for _, r := range snap.Results {
		got[r.EditionID] = r.Instructions
	}
	if got["e1"] != "Paint the cabinets blue." || got["e3"] != "Add a plant on the counter." {
		t.Errorf("healthy editions lost their text: %v", got)
	}
	if got["e2"] != gateway.FallbackInstructions {
		t.Errorf("Expected fallback for e2, got %q", got["e2"])
	}
}

func TestRunUnreadableEditionIsContained(t *testing.T) {
	p := &scriptedProvider{caption: "A field.", diffs: map[string]string{"e1": "Add cows."}}
	sess := newSession(t, "e1")
	if _, err := sess.AddEdition(models.UploadedImage{ID: "broken", Filename: "broken.jpg"}); err != nil {
		t.Fatal(err)
	}

	if _, err := newOrchestrator(p).Run(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := sess.Snapshot()
	if snap.Status != models.StatusComplete || len(snap.Results) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Results[1].EditionID != "broken" || snap.Results[1].Instructions != gateway.FallbackInstructions {
		t.Errorf("unexpected result for unreadable edition: %+v", snap.Results[1])
	}
}

func TestRunIssuesEditionCallsConcurrently(t *testing.T) {
	p := &scriptedProvider{
		caption:  "A park.",
		diffs:    map[string]string{"e1": "one", "e2": "two", "e3": "three", "e4": "four"},
		barrier:  4,
		released: make(chan struct{}),
	}
	sess := newSession(t, "e1", "e2", "e3", "e4")

	result, err := newOrchestrator(p).Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, text := range result.Instructions {
		if text != p.diffs[id] {
			t.Errorf("edition %s got %q, want %q", id, text, p.diffs[id])
		}
	}
}

func TestRunPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) *session.Session
		wantErr error
	}{
		{
			name:    "no original",
			setup:   func(t *testing.T) *session.Session { return session.New("empty") },
			wantErr: ErrNoOriginal,
		},
		{
			name:    "no editions",
			setup:   func(t *testing.T) *session.Session { return newSession(t) },
			wantErr: ErrNoEditions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{caption: "unused"}
			sess := tt.setup(t)
			before := sess.Snapshot()

			_, err := newOrchestrator(p).Run(context.Background(), sess)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if sess.Status() != models.StatusIdle {
				t.Errorf("Expected no state change, got %s", sess.Status())
			}
			if after := sess.Snapshot(); !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Error("session was modified by a rejected run")
			}
			if len(p.recorded()) != 0 {
				t.Errorf("Expected no model calls, got %v", p.recorded())
			}
		})
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	p := &scriptedProvider{caption: "A lake.", diffs: map[string]string{"e1": "Add a boat."}, gate: make(chan struct{})}
	sess := newSession(t, "e1")
	o := newOrchestrator(p)

	done, err := o.Start(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), sess); !errors.Is(err, ErrAnalysisInProgress) {
		t.Errorf("Expected ErrAnalysisInProgress, got %v", err)
	}
	close(p.gate)
	waitFor(t, done)
	o.Wait()

	if sess.Status() != models.StatusComplete {
		t.Errorf("Expected COMPLETE, got %s", sess.Status())
	}
}

func TestRerunReplacesResults(t *testing.T) {
	p := &scriptedProvider{caption: "First caption.", diffs: map[string]string{"e1": "First edit."}}
	sess := newSession(t, "e1")
	o := newOrchestrator(p)

	if _, err := o.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	p.caption = ""
	p.captionErr = errors.New("quota exceeded")
	p.mu.Unlock()

	if _, err := o.Run(context.Background(), sess); !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("Expected ErrAnalysisFailed, got %v", err)
	}
	snap := sess.Snapshot()
	if snap.Status != models.StatusError || snap.OriginalDescription != "" || len(snap.Results) != 0 {
		t.Errorf("stale results survived a failed rerun: %+v", snap)
	}

	p.mu.Lock()
	p.caption = "Second caption."
	p.captionErr = nil
	p.diffs["e1"] = "Second edit."
	p.mu.Unlock()

	if _, err := o.Run(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	snap = sess.Snapshot()
	if snap.OriginalDescription != "Second caption." || snap.Results[0].Instructions != "Second edit." {
		t.Errorf("unexpected rerun results: %+v", snap)
	}
}

func TestReplacingOriginalDuringRunDiscardsIt(t *testing.T) {
	p := &scriptedProvider{caption: "Old caption.", diffs: map[string]string{"e1": "Old edit."}, gate: make(chan struct{})}
	sess := newSession(t, "e1")

	done, err := newOrchestrator(p).Start(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	sess.SetOriginal(img("mountain"))
	close(p.gate)
	waitFor(t, done)

	snap := sess.Snapshot()
	if snap.Status != models.StatusIdle || snap.OriginalDescription != "" || len(snap.Results) != 0 {
		t.Errorf("superseded run leaked into the session: %+v", snap)
	}
}

func TestRemovingEditionDuringRun(t *testing.T) {
	p := &scriptedProvider{caption: "A desk.", diffs: map[string]string{"e1": "Add a lamp.", "e2": "Remove the mug."}, gate: make(chan struct{})}
	sess := newSession(t, "e1", "e2")

	done, err := newOrchestrator(p).Start(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.RemoveEdition("e2"); err != nil {
		t.Fatal(err)
	}
	close(p.gate)
	waitFor(t, done)

	snap := sess.Snapshot()
	if snap.Status != models.StatusComplete {
		t.Fatalf("Expected COMPLETE, got %s", snap.Status)
	}
	if len(snap.Results) != 1 || snap.Results[0].EditionID != "e1" {
		t.Errorf("Expected only e1 to keep a result, got %+v", snap.Results)
	}
}

func TestCancelledRun(t *testing.T) {
	t.Run("during captioning", func(t *testing.T) {
		p := &scriptedProvider{caption: "unused", gate: make(chan struct{})}
		sess := newSession(t, "e1")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := newOrchestrator(p).Run(ctx, sess); !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
		if sess.Status() != models.StatusError {
			t.Errorf("Expected ERROR, got %s", sess.Status())
		}
	})
}
