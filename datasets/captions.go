package datasets

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"cxrcaps/report"
)

// captionCacheVersion is incremented whenever the sentence-extraction logic
// or the on-disk cache layout changes. A cache written under a different
// version is treated as a miss and rebuilt.
const captionCacheVersion = 1

// CaptionIndex maps every image path of the corpus either to its cleaned
// sentence collection or into the exclusion set, never both and never
// neither. Once built it is read-only and safe for unsynchronized concurrent
// reads.
type CaptionIndex struct {
	Mapping  map[string][]string
	Excluded map[string]bool
}

// captionCacheFile is the gob payload persisted on disk.
type captionCacheFile struct {
	Version  int
	Mapping  map[string][]string
	Excluded map[string]bool
}

// LoadOrBuildCaptions returns the corpus caption index, reading it from
// cachePath when a compatible cache artifact exists there and building (and
// persisting) it otherwise. A cache hit is returned verbatim, with no
// revalidation against records. Building is a single-writer operation:
// callers running parallel readers must build once up front.
//
// Corpus statistics are only available on a fresh build; on a cache hit the
// returned stats are nil. When verbose is set, building shows a progress bar.
func LoadOrBuildCaptions(records []StudyRecord, proc *report.Processor, cachePath string, verbose bool) (*CaptionIndex, *report.Stats, error) {
	if cachePath != "" {
		index, err := readCaptionCache(cachePath)
		if err != nil {
			return nil, nil, err
		}
		if index != nil {
			return index, nil, nil
		}
	}

	index := &CaptionIndex{
		Mapping:  make(map[string][]string, len(records)),
		Excluded: make(map[string]bool),
	}
	stats := &report.Stats{}

	var bar *progressbar.ProgressBar
	if verbose {
		bar = progressbar.NewOptions(len(records),
			progressbar.OptionSetDescription("Extracting captions"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("reports"),
		)
	}
	for _, rec := range records {
		sentences, _ := proc.Process(rec.ReportText)
		stats.Observe(sentences)
		if len(sentences) > 0 {
			index.Mapping[rec.ImagePath] = sentences
		} else {
			// Recovered locally: the image is excluded, the build goes on.
			index.Excluded[rec.ImagePath] = true
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Close()
	}

	if cachePath != "" {
		if err := writeCaptionCache(cachePath, index); err != nil {
			// The freshly built index is still usable; degrade to an
			// uncached run rather than aborting.
			klog.Warningf("failed to persist caption cache to %s: %v", cachePath, err)
		}
	}
	return index, stats, nil
}

// readCaptionCache returns the cached index, nil when the artifact is absent
// or carries a stale version, or an error when it exists but cannot be read.
func readCaptionCache(path string) (*CaptionIndex, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open caption cache %s: %w", path, err)
	}
	defer file.Close()

	var payload captionCacheFile
	if err := gob.NewDecoder(file).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode caption cache %s: %w", path, err)
	}
	if payload.Version != captionCacheVersion {
		klog.Warningf("caption cache %s has version %d, want %d; rebuilding", path, payload.Version, captionCacheVersion)
		return nil, nil
	}
	index := &CaptionIndex{Mapping: payload.Mapping, Excluded: payload.Excluded}
	if index.Mapping == nil {
		index.Mapping = make(map[string][]string)
	}
	if index.Excluded == nil {
		index.Excluded = make(map[string]bool)
	}
	return index, nil
}

func writeCaptionCache(path string, index *CaptionIndex) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create caption cache %s: %w", path, err)
	}
	defer file.Close()

	payload := captionCacheFile{
		Version:  captionCacheVersion,
		Mapping:  index.Mapping,
		Excluded: index.Excluded,
	}
	if err := gob.NewEncoder(file).Encode(&payload); err != nil {
		return fmt.Errorf("failed to encode caption cache %s: %w", path, err)
	}
	return nil
}

// SplitPaths returns the ordered image paths of one split that have usable
// captions. Order follows records; excluded paths are dropped. "valid" is
// accepted as an alias for the "validate" split label used by the corpus.
func SplitPaths(records []StudyRecord, split string, index *CaptionIndex) []string {
	if split == "valid" {
		split = "validate"
	}
	var paths []string
	for _, rec := range records {
		if rec.Split != split {
			continue
		}
		if _, ok := index.Mapping[rec.ImagePath]; ok {
			paths = append(paths, rec.ImagePath)
		}
	}
	return paths
}
