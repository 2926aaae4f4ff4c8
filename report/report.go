package report

import (
	"regexp"
	"sort"
	"strings"
)

// This package turns one raw radiology report into the ordered list of
// cleaned sentences that serve as per-image captions.
//
// A report is free text. Radiologists commonly itemize findings with numeric
// bullets ("1. No pneumothorax. 2. Clear lung fields."), so a number followed
// by a period is a section break, not sentence punctuation. Splitting happens
// in two passes: first on the bullet pattern, then on literal periods within
// each block. Candidates are lower-cased, tokenized into alphanumeric runs,
// stripped to printable ASCII, and kept only when at least two tokens remain.
//
// Processing is pure per report; corpus-wide statistics are accumulated
// separately through Stats so the transformation stays independently
// testable.

var (
	bulletRe = regexp.MustCompile(`[0-9]+\.`)
	tokenRe  = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// Processor holds the sentence-extraction settings for one corpus build.
type Processor struct {
	// MaxWords caps the total number of included tokens per report. Once the
	// running total reaches the cap, remaining sentences of that report are
	// dropped. Zero or negative means no cap.
	MaxWords int
}

// NewProcessor returns a Processor with the given per-report word cap.
func NewProcessor(maxWords int) *Processor {
	return &Processor{MaxWords: maxWords}
}

// Process extracts the cleaned sentence collection from one raw report and
// returns it along with the total number of included tokens. An empty or
// unusable report yields an empty collection; the caller is expected to move
// the corresponding image into its exclusion set.
func (p *Processor) Process(raw string) (sentences []string, included int) {
	if raw == "" {
		return nil, 0
	}
	text := strings.ReplaceAll(raw, "\n", " ")

	// Numeric bullets delimit itemization blocks. Split never requires a
	// match: a report without bullets is a single block.
	for _, block := range bulletRe.Split(text, -1) {
		for _, candidate := range strings.Split(block, ".") {
			if strings.TrimSpace(candidate) == "" {
				continue
			}
			// Mis-decoded byte pairs show up as doubled replacement runes.
			candidate = strings.ReplaceAll(candidate, "��", " ")

			tokens := filterASCII(tokenRe.FindAllString(strings.ToLower(candidate), -1))
			if len(tokens) <= 1 {
				// Fragments like "ok" or stray section labels carry no
				// signal as captions.
				continue
			}
			sentences = append(sentences, strings.Join(tokens, " "))
			included += len(tokens)
			if p.MaxWords > 0 && included >= p.MaxWords {
				return sentences, included
			}
		}
	}
	return sentences, included
}

// filterASCII strips every token down to its printable-ASCII characters and
// drops tokens that become empty.
func filterASCII(tokens []string) []string {
	kept := tokens[:0]
	for _, tok := range tokens {
		var b strings.Builder
		for _, r := range tok {
			if r > 0x20 && r < 0x7f {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			kept = append(kept, b.String())
		}
	}
	return kept
}

// Stats accumulates corpus-wide sentence statistics across many processed
// reports.
type Stats struct {
	// SentenceLens holds the token count of every included sentence.
	SentenceLens []int

	// SentencesPerReport holds the number of included sentences per report,
	// including zero for reports that yielded nothing.
	SentencesPerReport []int
}

// Observe records one processed report.
func (s *Stats) Observe(sentences []string) {
	for _, sent := range sentences {
		s.SentenceLens = append(s.SentenceLens, len(strings.Fields(sent)))
	}
	s.SentencesPerReport = append(s.SentencesPerReport, len(sentences))
}

// Summary describes one statistic series.
type Summary struct {
	Min, Mean, Max float64
	P5, P95        float64
}

// Summarize reduces a series to its summary. An empty series yields zeros.
func Summarize(series []int) Summary {
	if len(series) == 0 {
		return Summary{}
	}
	sorted := make([]float64, len(series))
	sum := 0.0
	for i, v := range series {
		sorted[i] = float64(v)
		sum += float64(v)
	}
	sort.Float64s(sorted)
	return Summary{
		Min:  sorted[0],
		Mean: sum / float64(len(sorted)),
		Max:  sorted[len(sorted)-1],
		P5:   percentile(sorted, 0.05),
		P95:  percentile(sorted, 0.95),
	}
}

// percentile linearly interpolates between the two nearest ranks of an
// ascending-sorted series.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
