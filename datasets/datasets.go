// Package datasets prepares paired image/report training samples from a
// corpus of chest radiograph studies.
//
// The corpus arrives as three CSV tables (per-image metadata, split
// assignments, per-study report sections) plus an image tree. Construction
// happens once, up front: the tables are joined into ordered StudyRecords,
// and every report is reduced to its usable sentences through the report
// package, producing a CaptionIndex that is persisted to disk so repeated
// runs skip the extraction pass.
//
// Per training step the work is intentionally small and stateless: decode
// one image, resize-and-pad it to a fixed square, pick a caption (whole
// report or one random sentence), tokenize it, and collate a batch sorted by
// caption length so downstream consumers can pack sequences efficiently.
// PretrainDataset wires these steps into gomlx's train.Dataset interface.
//
// The CaptionIndex is immutable after construction and safe for concurrent
// readers; each PretrainDataset owns its random source, so parallel loaders
// should hold one dataset instance each, seeded independently.
package datasets
