package imagepref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newCorpusServer serves an index of n reddish images followed by n bluish ones.
func newCorpusServer(t *testing.T, n int) *httptest.Server {
	t.Helper()
	var entries []IndexEntry
	images := map[string][]byte{}
	for _, kind := range []string{"red", "blue"} {
		for i := range n {
			shade := uint8(230 + 2*i)
			c := color.RGBA{R: shade, G: 20, B: 20, A: 255}
			if kind == "blue" {
				c = color.RGBA{R: 20, G: 20, B: shade, A: 255}
			}
			path := fmt.Sprintf("/img/%s%d.png", kind, i)
			images[path] = makePNG(32, 32, c)
			entries = append(entries, IndexEntry{X: path, Y: kind})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// runCommands executes cmds through a Dispatcher and returns one Status per command.
func runCommands(t *testing.T, s *Session, cmds ...Command) []Status {
	t.Helper()
	var statuses []Status
	d := NewDispatcher(s, StatusFunc(func(st Status) { statuses = append(statuses, st) }), len(cmds))
	for _, c := range cmds {
		if err := d.Enqueue(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	d.Close()
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != len(cmds) {
		t.Fatalf("got %d statuses for %d commands", len(statuses), len(cmds))
	}
	return statuses
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newCorpusServer(t, 5)
	cache, err := NewLRUCache(64)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSession(&Config{
		BaseURL:      srv.URL,
		HTTPClient:   srv.Client(),
		StartupDelay: -1,
		Cache:        cache,
		Classifier:   ClassifierConfig{Epochs: 200},
	})

	st := runCommands(t, s, ImportCommand{}, DecideCommand{Label: LabelLiked}, SuggestCommand{})
	if st[0].Err != nil || st[0].Message != "Imported 10 images" {
		t.Fatalf("import status = %+v", st[0])
	}
	if !errors.Is(st[1].Err, ErrSelection) || st[1].Message != "Select an image first" {
		t.Errorf("decide without selection = %+v", st[1])
	}
	if !errors.Is(st[2].Err, ErrNotTrained) {
		t.Errorf("suggest before training = %+v", st[2])
	}

	imgs, err := s.Corpus.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byURL := map[string]string{}
	for _, img := range imgs {
		byURL[strings.TrimPrefix(img.SourceURL, srv.URL)] = img.ID
	}
	id := func(kind string, i int) string { return byURL[fmt.Sprintf("/img/%s%d.png", kind, i)] }

	var cmds []Command
	for i := range 3 {
		cmds = append(cmds,
			SelectCommand{Dataset: DatasetCorpus, ID: id("red", i)}, DecideCommand{Label: LabelLiked},
			SelectCommand{Dataset: DatasetCorpus, ID: id("blue", i)}, DecideCommand{Label: LabelDisliked},
		)
	}
	cmds = append(cmds, TrainCommand{}, SetThresholdCommand{Value: 0.5}, SuggestCommand{}, StatusCommand{})
	st = runCommands(t, s, cmds...)
	for _, x := range st[:12] {
		if x.Err != nil {
			t.Fatalf("%s failed: %v (%s)", x.Command, x.Err, x.Message)
		}
	}
	if st[12].Err != nil || !strings.HasPrefix(st[12].Message, "Training complete: 6 examples (3 liked, 3 disliked)") {
		t.Fatalf("train status = %+v", st[12])
	}
	if st[14].Err != nil {
		t.Fatalf("suggest status = %+v", st[14])
	}
	if !strings.Contains(st[15].Message, "Model status: trained") || !strings.Contains(st[15].Message, "choices: 6") {
		t.Errorf("status = %q", st[15].Message)
	}

	sugs, err := s.Engine.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, sug := range sugs {
		got[sug.ID] = true
		if sug.Confidence <= 0.5 || sug.Label != LabelLiked {
			t.Errorf("suggestion %+v below threshold", sug)
		}
	}
	if len(got) != 2 || !got[id("red", 3)] || !got[id("red", 4)] {
		t.Errorf("suggestions = %v, want the two un-reviewed red images", got)
	}

	// Acting on a suggestion moves it into the choices and out of the next run.
	st = runCommands(t, s,
		SelectCommand{Dataset: DatasetSuggestions, ID: id("red", 3)}, DecideCommand{Label: LabelLiked},
		SuggestCommand{},
	)
	for _, x := range st {
		if x.Err != nil {
			t.Fatalf("%s failed: %v", x.Command, x.Err)
		}
	}
	rec, err := s.Choices.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	last := rec[len(rec)-1]
	if last.OriginalID != id("red", 3) || last.OriginalLabel != "red" || last.SourceDataset != DatasetSuggestions {
		t.Errorf("last choice = %+v", last)
	}
	if _, err := s.Engine.Get(ctx, id("red", 3)); !errors.Is(err, ErrNotFound) {
		t.Errorf("reviewed image still suggested: %v", err)
	}
}

func TestSession_TrainNeedsMinimum(t *testing.T) {
	t.Parallel()

	loader := newStubLoader()
	s := NewSessionWith(&Config{StartupDelay: -1}, loader, stubEmbedder{dim: 1})
	ctx := context.Background()
	for i := range 5 {
		if _, err := s.Upload(ctx, newVecImage(float32(i)), ""); err != nil {
			t.Fatal(err)
		}
	}

	st := runCommands(t, s, TrainCommand{})
	if !errors.Is(st[0].Err, ErrInsufficientData) || st[0].Message != "Need ≥6 examples to train" {
		t.Errorf("train status = %+v", st[0])
	}
	if s.Classifier.State() != ClassifierUntrained {
		t.Errorf("State = %s, want untrained", s.Classifier.State())
	}
}

func TestSession_Threshold(t *testing.T) {
	t.Parallel()

	s := NewSessionWith(&Config{}, newStubLoader(), stubEmbedder{dim: 1})
	if s.Threshold() != DefaultConfidenceThreshold {
		t.Errorf("default threshold = %v", s.Threshold())
	}

	st := runCommands(t, s,
		SetThresholdCommand{Value: 0.85},
		SetThresholdCommand{Value: 1.5},
		SetThresholdCommand{Value: math.NaN()},
	)
	if st[0].Err != nil || st[0].Message != "Confidence threshold set to 85%" {
		t.Errorf("status = %+v", st[0])
	}
	if st[1].Err == nil {
		t.Error("threshold 1.5 accepted")
	}
	if st[2].Err == nil {
		t.Error("threshold NaN accepted")
	}
	if s.Threshold() != 0.85 {
		t.Errorf("threshold = %v, want 0.85", s.Threshold())
	}
}

func TestSelectionTracker(t *testing.T) {
	t.Parallel()

	var tr SelectionTracker
	if !tr.Current().IsZero() {
		t.Fatal("new tracker has a selection")
	}
	if _, err := tr.Select(DatasetChoices, "x"); err == nil {
		t.Error("choices dataset should not be selectable")
	}
	if _, err := tr.Select(DatasetCorpus, ""); err == nil {
		t.Error("empty id accepted")
	}
	if _, err := tr.Select(DatasetSuggestions, "x"); err != nil {
		t.Fatal(err)
	}
	if got := tr.Current(); got != (Selection{Dataset: DatasetSuggestions, ID: "x"}) {
		t.Errorf("Current = %+v", got)
	}
	tr.Clear()
	if !tr.Current().IsZero() {
		t.Error("Clear kept the selection")
	}
}

func TestListCommand(t *testing.T) {
	t.Parallel()

	s := NewSessionWith(&Config{}, newStubLoader(), stubEmbedder{dim: 1})
	ctx := context.Background()
	if err := s.Corpus.Add(ctx, ImageRecord{ID: "a", SourceURL: "http://x/a.jpg", Label: "oil"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(ctx, newVecImage(1), ""); err != nil {
		t.Fatal(err)
	}

	st := runCommands(t, s,
		ListCommand{Dataset: DatasetCorpus},
		ListCommand{Dataset: DatasetChoices},
		ListCommand{Dataset: DatasetSuggestions},
		ListCommand{Dataset: "bogus"},
	)
	if st[0].Err != nil || !strings.HasPrefix(st[0].Message, "1 images") || !strings.Contains(st[0].Message, "http://x/a.jpg") {
		t.Errorf("corpus list = %+v", st[0])
	}
	if st[1].Err != nil || !strings.HasPrefix(st[1].Message, "1 choices") || !strings.Contains(st[1].Message, "(was user-upload)") {
		t.Errorf("choices list = %+v", st[1])
	}
	if st[2].Err != nil || st[2].Message != "0 suggestions" {
		t.Errorf("suggestions list = %+v", st[2])
	}
	if st[3].Err == nil {
		t.Error("unknown dataset accepted")
	}
}

func TestSession_TwoChoicesThenSix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newCorpusServer(t, 5)
	s := NewSession(&Config{
		BaseURL:      srv.URL,
		HTTPClient:   srv.Client(),
		StartupDelay: -1,
		Classifier:   ClassifierConfig{Epochs: 200},
	})
	if st := runCommands(t, s, ImportCommand{}); st[0].Err != nil {
		t.Fatalf("import status = %+v", st[0])
	}

	imgs, err := s.Corpus.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byURL := map[string]string{}
	for _, img := range imgs {
		byURL[strings.TrimPrefix(img.SourceURL, srv.URL)] = img.ID
	}
	id := func(kind string, i int) string { return byURL[fmt.Sprintf("/img/%s%d.png", kind, i)] }
	decide := func(kind string, i int, label Label) []Command {
		return []Command{SelectCommand{Dataset: DatasetCorpus, ID: id(kind, i)}, DecideCommand{Label: label}}
	}

	var cmds []Command
	cmds = append(cmds, decide("red", 0, LabelLiked)...)
	cmds = append(cmds, decide("blue", 0, LabelDisliked)...)
	cmds = append(cmds, TrainCommand{})
	st := runCommands(t, s, cmds...)
	if !errors.Is(st[4].Err, ErrInsufficientData) || st[4].Message != "Need ≥6 examples to train" {
		t.Fatalf("train with two choices = %+v", st[4])
	}

	cmds = nil
	for i := 1; i <= 2; i++ {
		cmds = append(cmds, decide("red", i, LabelLiked)...)
		cmds = append(cmds, decide("blue", i, LabelDisliked)...)
	}
	cmds = append(cmds, TrainCommand{}, SuggestCommand{})
	st = runCommands(t, s, cmds...)
	for _, x := range st {
		if x.Err != nil {
			t.Fatalf("%s failed: %v (%s)", x.Command, x.Err, x.Message)
		}
	}
	if s.Threshold() != DefaultConfidenceThreshold {
		t.Fatalf("threshold = %v, want default", s.Threshold())
	}

	sugs, err := s.Engine.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	reviewed := map[string]bool{}
	for i := range 3 {
		reviewed[id("red", i)], reviewed[id("blue", i)] = true, true
	}
	for _, sug := range sugs {
		if reviewed[sug.ID] {
			t.Errorf("reviewed image %s suggested", sug.ID)
		}
		if sug.Confidence <= DefaultConfidenceThreshold {
			t.Errorf("suggestion %+v not above the threshold", sug)
		}
	}
}
