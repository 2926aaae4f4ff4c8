package datasets

import (
	"errors"
	"image"
	"io"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"cxrcaps/report"
	"cxrcaps/tokenize"
)

// stubTokenizer encodes one id per whitespace word, padded with zeros, so a
// caption's token count equals its word count.
type stubTokenizer struct{ maxLen int }

func (s stubTokenizer) Encode(text string) (tokenize.Encoding, error) {
	enc := tokenize.Encoding{
		IDs:           make([]int32, s.maxLen),
		TypeIDs:       make([]int32, s.maxLen),
		AttentionMask: make([]int32, s.maxLen),
	}
	for i := range strings.Fields(text) {
		if i >= s.maxLen {
			break
		}
		enc.IDs[i] = int32(i + 1)
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}

func (s stubTokenizer) PadID() int32 { return 0 }

// pretrainFixture builds a three-sample train split whose full-report
// caption lengths are 5, 12 and 8 words respectively.
func pretrainFixture(t *testing.T, cfg PretrainConfig) *PretrainDataset {
	t.Helper()
	records := []StudyRecord{
		{ImagePath: "/img/a.jpg", Split: "train", ReportText: "one two three four five."},
		{ImagePath: "/img/b.jpg", Split: "train", ReportText: "aa bb cc dd ee ff. gg hh ii jj kk ll."},
		{ImagePath: "/img/c.jpg", Split: "train", ReportText: "qq ww ee rr. tt yy uu oo."},
	}
	index, _, err := LoadOrBuildCaptions(records, report.NewProcessor(0), "", false)
	if err != nil {
		t.Fatalf("LoadOrBuildCaptions failed: %v", err)
	}

	cfg.Split = "train"
	ds, err := NewPretrainDataset(records, index, stubTokenizer{maxLen: 16}, cfg)
	if err != nil {
		t.Fatalf("NewPretrainDataset failed: %v", err)
	}
	// Tests never touch the filesystem for images.
	ds.decodeFn = func(path string) (image.Image, error) {
		return whiteImage(48, 32), nil
	}
	return ds
}

func TestPretrainDatasetIndex(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})
	if ds.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", ds.Len())
	}
	want := []string{"/img/a.jpg", "/img/b.jpg", "/img/c.jpg"}
	for i, path := range want {
		if ds.Path(i) != path {
			t.Fatalf("path %d: got %s want %s", i, ds.Path(i), path)
		}
	}
}

func TestSampleFullReport(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})

	s, err := ds.Sample(0)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if s.CapLen != 5 {
		t.Fatalf("expected caption length 5, got %d", s.CapLen)
	}
	if s.Path != "/img/a.jpg" {
		t.Fatalf("unexpected path %s", s.Path)
	}
	b := s.Image.Bounds()
	if b.Dx() != 32 || b.Dy() != 32 {
		t.Fatalf("expected 32x32 normalized image, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSampleOutOfRange(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})
	if _, err := ds.Sample(3); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestSelectCaptionFullReportDeterministic(t *testing.T) {
	sents := []string{"no pneumothorax", "heart size is normal"}
	a, err := SelectCaption(sents, FullReport, nil)
	if err != nil {
		t.Fatalf("SelectCaption failed: %v", err)
	}
	b, _ := SelectCaption(sents, FullReport, nil)
	if a != b || a != "no pneumothorax heart size is normal" {
		t.Fatalf("full report selection not deterministic: %q vs %q", a, b)
	}
}

func TestSelectCaptionRandomSeeded(t *testing.T) {
	sents := []string{"s0", "s1", "s2", "s3", "s4"}

	draw := func(seed int64, n int) []string {
		rng := rand.New(rand.NewSource(seed))
		out := make([]string, n)
		for i := range out {
			s, err := SelectCaption(sents, RandomSentence, rng)
			if err != nil {
				t.Fatalf("SelectCaption failed: %v", err)
			}
			out[i] = s
		}
		return out
	}

	first := draw(7, 20)
	second := draw(7, 20)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same seed must reproduce the same selection sequence")
	}

	seen := map[string]bool{}
	for _, s := range first {
		seen[s] = true
	}
	if len(seen) < 2 {
		t.Fatalf("random selection looks degenerate: %v", first)
	}
}

func TestSelectCaptionEmptyIsFatal(t *testing.T) {
	if _, err := SelectCaption(nil, FullReport, nil); !errors.Is(err, ErrEmptyCaption) {
		t.Fatalf("expected ErrEmptyCaption, got %v", err)
	}
}

func TestSampleEmptyCaptionIsFatal(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})
	// Simulate a corrupted index: the path is mapped but has no sentences.
	ds.captions.Mapping["/img/a.jpg"] = nil

	_, err := ds.Sample(0)
	if !errors.Is(err, ErrEmptyCaption) {
		t.Fatalf("expected ErrEmptyCaption, got %v", err)
	}
	if !strings.Contains(err.Error(), "/img/a.jpg") {
		t.Fatalf("error should identify the offending path: %v", err)
	}
}

func TestCollateSortsByCaptionLength(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})

	samples := make([]Sample, ds.Len())
	for i := range samples {
		s, err := ds.Sample(i)
		if err != nil {
			t.Fatalf("Sample(%d) failed: %v", i, err)
		}
		samples[i] = s
	}

	batch, err := ds.Collate(samples)
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}

	if !reflect.DeepEqual(batch.CapLens, []int{12, 8, 5}) {
		t.Fatalf("expected descending caption lengths [12 8 5], got %v", batch.CapLens)
	}
	wantPaths := []string{"/img/b.jpg", "/img/c.jpg", "/img/a.jpg"}
	if !reflect.DeepEqual(batch.Paths, wantPaths) {
		t.Fatalf("paths not permuted with lengths: got %v want %v", batch.Paths, wantPaths)
	}

	if dims := batch.Images.Shape().Dimensions; !reflect.DeepEqual(dims, []int{3, 32, 32, 3}) {
		t.Fatalf("unexpected image batch shape: %v", dims)
	}
	for _, tensor := range []struct {
		name string
		dims []int
	}{
		{"caption ids", batch.CaptionIDs.Shape().Dimensions},
		{"type ids", batch.TypeIDs.Shape().Dimensions},
		{"attention mask", batch.AttentionMask.Shape().Dimensions},
	} {
		if !reflect.DeepEqual(tensor.dims, []int{3, 16}) {
			t.Fatalf("unexpected %s shape: %v", tensor.name, tensor.dims)
		}
	}
}

func TestCollateStableOnTies(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})

	a, _ := ds.Sample(0)
	b, _ := ds.Sample(0)
	b.Path = "/img/tie.jpg"
	c, _ := ds.Sample(1)

	batch, err := ds.Collate([]Sample{a, b, c})
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}
	want := []string{"/img/b.jpg", "/img/a.jpg", "/img/tie.jpg"}
	if !reflect.DeepEqual(batch.Paths, want) {
		t.Fatalf("ties must keep original order: got %v want %v", batch.Paths, want)
	}
}

func TestCollateEmptyBatch(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})
	if _, err := ds.Collate(nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestYieldBatchesAndReset(t *testing.T) {
	ds := pretrainFixture(t, PretrainConfig{ImageSize: 32, BatchSize: 2, Seed: 1})

	_, inputs, labels, err := ds.Yield()
	if err != nil {
		t.Fatalf("first Yield failed: %v", err)
	}
	if len(labels) != 0 {
		t.Fatalf("pretraining yields no labels, got %d", len(labels))
	}
	if len(inputs) != 5 {
		t.Fatalf("expected 5 input tensors, got %d", len(inputs))
	}
	if dims := inputs[0].Shape().Dimensions; !reflect.DeepEqual(dims, []int{2, 32, 32, 3}) {
		t.Fatalf("unexpected first batch image shape: %v", dims)
	}

	_, inputs, _, err = ds.Yield()
	if err != nil {
		t.Fatalf("second Yield failed: %v", err)
	}
	if dims := inputs[0].Shape().Dimensions; !reflect.DeepEqual(dims, []int{1, 32, 32, 3}) {
		t.Fatalf("unexpected final batch image shape: %v", dims)
	}

	if _, _, _, err := ds.Yield(); err != io.EOF {
		t.Fatalf("exhausted dataset should return io.EOF, got %v", err)
	}

	ds.Reset()
	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("Yield after Reset failed: %v", err)
	}
}

func TestShuffleIsDeterministic(t *testing.T) {
	first := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})
	second := pretrainFixture(t, PretrainConfig{ImageSize: 32, Seed: 1})

	first.Shuffle(3)
	second.Shuffle(3)
	for i := 0; i < first.Len(); i++ {
		if first.Path(i) != second.Path(i) {
			t.Fatalf("same shuffle seed produced different orders at %d", i)
		}
	}
}
