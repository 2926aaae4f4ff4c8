package datasets

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StudyRecord is one image of one radiology study, joined from the corpus
// metadata tables. Records are immutable once loaded.
type StudyRecord struct {
	SubjectID    string
	StudyID      string
	DicomID      string
	ViewPosition string
	Split        string
	ImagePath    string
	ReportText   string
}

// DuplicateKeyError reports a duplicated identifier in a source table. The
// corpus join is only well-defined with unique keys, so the whole build
// aborts rather than constructing a partial dataset.
type DuplicateKeyError struct {
	File   string
	Column string
	Value  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s %q in %s", e.Column, e.Value, e.File)
}

// MetadataConfig locates the corpus tables and the image tree. All paths are
// explicit; nothing is read from process-wide locations.
type MetadataConfig struct {
	// MetadataCSV has one row per image: dicom_id, study_id, subject_id and
	// view_position (among others).
	MetadataCSV string

	// SplitCSV assigns each dicom_id to train/validate/test.
	SplitCSV string

	// SectionedCSV has one row per study with the extracted impression text.
	SectionedCSV string

	// ImageRoot is the directory holding the files/pXX/pSUBJECT/sSTUDY tree.
	ImageRoot string

	// Views keeps only these view positions (e.g. AP, PA). Empty keeps all.
	Views []string
}

// LoadStudyRecords reads and joins the three corpus tables into the ordered
// record list: split ⋈ metadata on (dicom_id, study_id, subject_id), then
// ⋈ sectioned on study_id. Rows without a matching impression, with an
// unwanted view position, or with an empty report are dropped. Order follows
// the split table.
func LoadStudyRecords(cfg MetadataConfig) ([]StudyRecord, error) {
	splitCols, splitRows, err := readCSVTable(cfg.SplitCSV)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(cfg.SplitCSV, splitCols, "dicom_id", "study_id", "subject_id", "split"); err != nil {
		return nil, err
	}
	if err := checkUnique(cfg.SplitCSV, "dicom_id", splitRows, splitCols["dicom_id"]); err != nil {
		return nil, err
	}

	metaCols, metaRows, err := readCSVTable(cfg.MetadataCSV)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(cfg.MetadataCSV, metaCols, "dicom_id", "study_id", "subject_id", "viewposition"); err != nil {
		return nil, err
	}
	if err := checkUnique(cfg.MetadataCSV, "dicom_id", metaRows, metaCols["dicom_id"]); err != nil {
		return nil, err
	}

	secCols, secRows, err := readCSVTable(cfg.SectionedCSV)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(cfg.SectionedCSV, secCols, "study_id", "impression"); err != nil {
		return nil, err
	}
	if err := checkUnique(cfg.SectionedCSV, "study_id", secRows, secCols["study_id"]); err != nil {
		return nil, err
	}

	type metaRow struct {
		studyID, subjectID, view string
	}
	metaByDicom := make(map[string]metaRow, len(metaRows))
	for _, row := range metaRows {
		metaByDicom[row[metaCols["dicom_id"]]] = metaRow{
			studyID:   row[metaCols["study_id"]],
			subjectID: row[metaCols["subject_id"]],
			view:      row[metaCols["viewposition"]],
		}
	}
	impressionByStudy := make(map[string]string, len(secRows))
	for _, row := range secRows {
		impressionByStudy[row[secCols["study_id"]]] = row[secCols["impression"]]
	}

	wantView := make(map[string]bool, len(cfg.Views))
	for _, v := range cfg.Views {
		wantView[strings.ToUpper(strings.TrimSpace(v))] = true
	}

	var records []StudyRecord
	for _, row := range splitRows {
		dicom := row[splitCols["dicom_id"]]
		study := row[splitCols["study_id"]]
		subject := row[splitCols["subject_id"]]

		meta, ok := metaByDicom[dicom]
		if !ok || meta.studyID != study || meta.subjectID != subject {
			continue
		}
		if len(wantView) > 0 && !wantView[strings.ToUpper(strings.TrimSpace(meta.view))] {
			continue
		}
		impression, ok := impressionByStudy[study]
		if !ok || strings.TrimSpace(impression) == "" {
			continue
		}

		records = append(records, StudyRecord{
			SubjectID:    subject,
			StudyID:      study,
			DicomID:      dicom,
			ViewPosition: meta.view,
			Split:        row[splitCols["split"]],
			ImagePath:    imagePath(cfg.ImageRoot, subject, study, dicom),
			ReportText:   impression,
		})
	}
	return records, nil
}

// imagePath derives the on-disk location of one image inside the corpus
// tree: files/p<subject[:2]>/p<subject>/s<study>/<dicom>.jpg.
func imagePath(root, subject, study, dicom string) string {
	prefix := subject
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(root, "files", "p"+prefix, "p"+subject, "s"+study, dicom+".jpg")
}

// checkUnique verifies that a key column has no duplicated values.
func checkUnique(file, column string, rows [][]string, colIdx int) error {
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		key := row[colIdx]
		if seen[key] {
			return &DuplicateKeyError{File: file, Column: column, Value: key}
		}
		seen[key] = true
	}
	return nil
}

// requireColumns verifies the normalized header contains every needed column.
func requireColumns(file string, colIndex map[string]int, cols ...string) error {
	for _, col := range cols {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("required column %q not found in %s", col, file)
		}
	}
	return nil
}

// readCSVTable reads a whole CSV file, returning a lowercased header index
// and the data rows.
func readCSVTable(path string) (map[string]int, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("CSV %s is empty", path)
	}

	colIndex := make(map[string]int, len(all[0]))
	for i, col := range all[0] {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return colIndex, all[1:], nil
}
