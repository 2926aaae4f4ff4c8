package datasets

import (
	"image"
	"io"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"cxrcaps/tokenize"
)

// CaptionMode selects the caption text for one training sample.
type CaptionMode int

const (
	// FullReport joins all sentences of the report in order.
	FullReport CaptionMode = iota
	// RandomSentence draws a single sentence uniformly at random.
	RandomSentence
)

// ErrEmptyCaption reports that a path reached sampling with zero sentences.
// Paths without usable sentences belong in the exclusion set, so hitting
// this error means the caption index and the dataset index disagree; the
// caller must abort rather than skip the sample.
var ErrEmptyCaption = errors.New("no sentences for image path")

// SelectCaption produces the caption text for one sentence collection.
// RandomSentence consumes the supplied random source, which each reader must
// own and seed independently for reproducible parallel loading.
func SelectCaption(sentences []string, mode CaptionMode, rng *rand.Rand) (string, error) {
	if len(sentences) == 0 {
		return "", ErrEmptyCaption
	}
	if mode == RandomSentence {
		return sentences[rng.Intn(len(sentences))], nil
	}
	return strings.Join(sentences, " "), nil
}

// PretrainConfig holds the per-split dataset settings.
type PretrainConfig struct {
	// Split selects train/validate/test rows ("valid" aliases "validate").
	Split string

	// ImageSize is the output square side. Default: 224.
	ImageSize int

	// BatchSize used by Yield. Default: 32.
	BatchSize int

	// Mode selects full-report or random-sentence captions.
	Mode CaptionMode

	// Seed for the dataset-owned random source. If zero, a time-based seed
	// is used.
	Seed int64
}

// Sample is one training instance: the normalized image, the caption
// encoding, the non-padding token count and the source path. Samples are
// ephemeral; they exist only between construction and collation.
type Sample struct {
	Image  image.Image
	Enc    tokenize.Encoding
	CapLen int
	Path   string
}

// Batch is a collated group of samples with every field permuted by the same
// caption-length-descending order, ready for length-based packing downstream.
type Batch struct {
	Images        *tensors.Tensor // [N, size, size, 3] float32 in [0, 1]
	CaptionIDs    *tensors.Tensor // [N, maxLen]
	TypeIDs       *tensors.Tensor // [N, maxLen]
	AttentionMask *tensors.Tensor // [N, maxLen]
	CapLens       []int           // [N], non-increasing
	Paths         []string        // [N]
}

// PretrainDataset pairs corpus images with their report captions for one
// split. It implements gomlx's train.Dataset so it can drive a training
// loop directly, and exposes Sample/Collate for frameworks that manage
// their own reader processes. All shared state (the caption index) is
// read-only; the only mutable state is the yield cursor and the random
// source, so independent dataset instances can be used concurrently.
type PretrainDataset struct {
	name     string
	paths    []string
	captions *CaptionIndex
	tok      tokenize.Tokenizer

	imageSize int
	batchSize int
	mode      CaptionMode
	rng       *rand.Rand

	toTensor *timage.ToTensorConfig
	decodeFn func(path string) (image.Image, error)

	// Yield cursor.
	pos int
}

var (
	assertPretrainIsTrainDataset *PretrainDataset
	_                            train.Dataset = assertPretrainIsTrainDataset
)

// NewPretrainDataset builds the dataset view of one split. The caption index
// must already be built (see LoadOrBuildCaptions); records provide the split
// membership and ordering.
func NewPretrainDataset(records []StudyRecord, index *CaptionIndex, tok tokenize.Tokenizer, cfg PretrainConfig) (*PretrainDataset, error) {
	if index == nil {
		return nil, errors.New("caption index is nil")
	}
	if tok == nil {
		return nil, errors.New("tokenizer is nil")
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 224
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &PretrainDataset{
		name:      "cxr-pretrain-" + cfg.Split,
		paths:     SplitPaths(records, cfg.Split, index),
		captions:  index,
		tok:       tok,
		imageSize: cfg.ImageSize,
		batchSize: cfg.BatchSize,
		mode:      cfg.Mode,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		toTensor:  timage.ToTensor(dtypes.Float32),
		decodeFn:  DecodeGrayscale,
	}, nil
}

// Name implements train.Dataset.
func (ds *PretrainDataset) Name() string { return ds.name }

// Len returns the number of usable samples in the split.
func (ds *PretrainDataset) Len() int { return len(ds.paths) }

// Path returns the image path of sample i.
func (ds *PretrainDataset) Path(i int) string { return ds.paths[i] }

// Sample builds the training instance for index i: decode, normalize,
// select a caption and tokenize it.
func (ds *PretrainDataset) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(ds.paths) {
		return Sample{}, errors.Errorf("sample index %d out of range [0, %d)", i, len(ds.paths))
	}
	path := ds.paths[i]

	raw, err := ds.decodeFn(path)
	if err != nil {
		return Sample{}, err
	}
	img := ResizeWithPadding(raw, ds.imageSize)

	text, err := SelectCaption(ds.captions.Mapping[path], ds.mode, ds.rng)
	if err != nil {
		return Sample{}, errors.Wrap(err, path)
	}
	enc, err := ds.tok.Encode(text)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Image:  img,
		Enc:    enc,
		CapLen: enc.Length(ds.tok.PadID()),
		Path:   path,
	}, nil
}

// Collate stacks samples into a Batch, reordered so caption lengths are
// non-increasing. The sort is stable: ties keep their original relative
// position, and every field is permuted identically.
func (ds *PretrainDataset) Collate(samples []Sample) (*Batch, error) {
	n := len(samples)
	if n == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}
	encLen := len(samples[0].Enc.IDs)
	for i, s := range samples {
		if len(s.Enc.IDs) != encLen || len(s.Enc.TypeIDs) != encLen || len(s.Enc.AttentionMask) != encLen {
			return nil, errors.Errorf("sample %d has inconsistent encoding length (want %d)", i, encLen)
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return samples[order[a]].CapLen > samples[order[b]].CapLen
	})

	imgs := make([]image.Image, n)
	ids := make([][]int32, n)
	typeIDs := make([][]int32, n)
	masks := make([][]int32, n)
	capLens := make([]int, n)
	paths := make([]string, n)
	for outPos, inPos := range order {
		s := samples[inPos]
		imgs[outPos] = s.Image
		ids[outPos] = s.Enc.IDs
		typeIDs[outPos] = s.Enc.TypeIDs
		masks[outPos] = s.Enc.AttentionMask
		capLens[outPos] = s.CapLen
		paths[outPos] = s.Path
	}

	return &Batch{
		Images:        ds.toTensor.Batch(imgs),
		CaptionIDs:    tensors.FromAnyValue(ids),
		TypeIDs:       tensors.FromAnyValue(typeIDs),
		AttentionMask: tensors.FromAnyValue(masks),
		CapLens:       capLens,
		Paths:         paths,
	}, nil
}

// Shuffle reorders the split index with the given seed.
func (ds *PretrainDataset) Shuffle(seed int64) {
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(ds.paths), func(i, j int) {
		ds.paths[i], ds.paths[j] = ds.paths[j], ds.paths[i]
	})
}

// Yield implements train.Dataset. It returns the next batch as tensors:
// images [batch, size, size, 3], caption ids, type ids and attention mask
// [batch, maxLen], and caption lengths [batch] sorted descending. Labels are
// empty; pretraining is self-supervised on the pairs themselves. Returns
// io.EOF once the split is exhausted.
func (ds *PretrainDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.pos >= len(ds.paths) {
		return nil, nil, nil, io.EOF
	}
	end := ds.pos + ds.batchSize
	if end > len(ds.paths) {
		end = len(ds.paths)
	}

	samples := make([]Sample, 0, end-ds.pos)
	for i := ds.pos; i < end; i++ {
		s, err := ds.Sample(i)
		if err != nil {
			return nil, nil, nil, err
		}
		samples = append(samples, s)
	}
	ds.pos = end

	batch, err := ds.Collate(samples)
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{
		batch.Images,
		batch.CaptionIDs,
		batch.TypeIDs,
		batch.AttentionMask,
		tensors.FromValue(batch.CapLens),
	}
	return ds, inputs, nil, nil
}

// Reset implements train.Dataset, restarting the split from the beginning.
func (ds *PretrainDataset) Reset() {
	ds.pos = 0
}
