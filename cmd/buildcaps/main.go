// Command buildcaps joins the corpus metadata tables, extracts the caption
// index (building or refreshing the on-disk cache) and reports corpus-level
// sentence statistics. Run it once before spawning training readers so they
// all hit a warm cache.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"cxrcaps/datasets"
	"cxrcaps/report"
)

func main() {
	metadataCSV := flag.String("metadata", "", "path to the per-image metadata CSV")
	splitCSV := flag.String("split", "", "path to the split assignment CSV")
	sectionedCSV := flag.String("sectioned", "", "path to the sectioned report CSV")
	imageRoot := flag.String("image-root", "", "root directory of the corpus image tree")
	cachePath := flag.String("cache", "captions.gob", "location of the caption cache artifact")
	maxWords := flag.Int("max-words", 0, "per-report included-word cap (0 = no cap)")
	views := flag.String("views", "AP,PA", "comma-separated view positions to keep")
	histPath := flag.String("hist", "", "if set, write a sentence-length histogram to this image file")
	flag.Parse()

	if *metadataCSV == "" || *splitCSV == "" || *sectionedCSV == "" {
		log.Fatal("the -metadata, -split and -sectioned CSV paths are required")
	}

	var keepViews []string
	for _, v := range strings.Split(*views, ",") {
		if v = strings.TrimSpace(v); v != "" {
			keepViews = append(keepViews, v)
		}
	}

	records, err := datasets.LoadStudyRecords(datasets.MetadataConfig{
		MetadataCSV:  *metadataCSV,
		SplitCSV:     *splitCSV,
		SectionedCSV: *sectionedCSV,
		ImageRoot:    *imageRoot,
		Views:        keepViews,
	})
	if err != nil {
		log.Fatalf("failed to load study records: %v", err)
	}
	log.Printf("loaded %s study records", humanize.Comma(int64(len(records))))

	index, stats, err := datasets.LoadOrBuildCaptions(records, report.NewProcessor(*maxWords), *cachePath, true)
	if err != nil {
		log.Fatalf("failed to build caption index: %v", err)
	}
	log.Printf("caption index: %s images with captions, %s excluded",
		humanize.Comma(int64(len(index.Mapping))), humanize.Comma(int64(len(index.Excluded))))

	for _, split := range []string{"train", "validate", "test"} {
		n := len(datasets.SplitPaths(records, split, index))
		log.Printf("split %-8s %s usable samples", split, humanize.Comma(int64(n)))
	}

	if stats == nil {
		log.Printf("caption cache was reused; statistics are only reported on a fresh build")
		return
	}
	printSummary("sentence length (tokens)", report.Summarize(stats.SentenceLens))
	printSummary("sentences per report", report.Summarize(stats.SentencesPerReport))

	if *histPath != "" {
		if err := writeHistogram(*histPath, stats.SentenceLens); err != nil {
			log.Fatalf("failed to write histogram: %v", err)
		}
		log.Printf("wrote sentence-length histogram to %s", *histPath)
	}
}

func printSummary(name string, s report.Summary) {
	fmt.Printf("%s: min=%.0f mean=%.2f max=%.0f [p5=%.1f, p95=%.1f]\n",
		name, s.Min, s.Mean, s.Max, s.P5, s.P95)
}

// writeHistogram renders the sentence-length distribution of the corpus.
func writeHistogram(path string, lens []int) error {
	values := make(plotter.Values, len(lens))
	for i, v := range lens {
		values[i] = float64(v)
	}

	p := plot.New()
	p.Title.Text = "Caption sentence lengths"
	p.X.Label.Text = "tokens per sentence"
	p.Y.Label.Text = "sentences"

	hist, err := plotter.NewHist(values, 30)
	if err != nil {
		return err
	}
	p.Add(hist)
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
