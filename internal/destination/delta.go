package destination

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

// deltaManifest mirrors internal/source's manifest: an append-only version
// log recording which data files belong to which version of a Delta
// table, in lieu of a full Delta Lake transaction log.
type deltaManifest struct {
	Version  int64                       `json:"version"`
	Versions map[string]deltaVersionInfo `json:"versions"`
}

type deltaVersionInfo struct {
	Files  []string      `json:"files"`
	Schema schema.Schema `json:"schema"`
}

func manifestPath(tablePath string) string {
	return filepath.Join(tablePath, "_aqueducts_manifest.json")
}

func readManifest(tablePath string) (deltaManifest, error) {
	data, err := os.ReadFile(manifestPath(tablePath))
	if os.IsNotExist(err) {
		return deltaManifest{Versions: map[string]deltaVersionInfo{}}, nil
	}
	if err != nil {
		return deltaManifest{}, err
	}
	var m deltaManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return deltaManifest{}, err
	}
	if m.Versions == nil {
		m.Versions = map[string]deltaVersionInfo{}
	}
	return m, nil
}

func writeManifest(tablePath string, m deltaManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath(tablePath), data, 0o644)
}

func (w *Writer) writeDelta(ctx context.Context, dest pipeline.Destination, sch schema.Schema, df sqlengine.DataFrame) (int, error) {
	if err := os.MkdirAll(dest.Path, 0o755); err != nil {
		return 0, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}

	manifest, err := readManifest(dest.Path)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}

	switch dest.WriteMode {
	case pipeline.WriteAppend:
		return w.deltaAppend(ctx, dest, sch, df, manifest)
	case pipeline.WriteReplace:
		return w.deltaReplace(ctx, dest, sch, df, manifest)
	case pipeline.WriteUpsert:
		return w.deltaUpsert(ctx, dest, sch, df, manifest)
	default:
		return 0, aqerrors.Newf(aqerrors.Config, dest.Name, "unsupported delta write_mode %q", dest.WriteMode)
	}
}

// collectRecords drains df into string-encoded records, the on-disk
// representation every Delta part file in this module uses.
func collectRecords(ctx context.Context, df sqlengine.DataFrame) (int, [][]string, error) {
	var records [][]string
	count := 0
	for df.Next(ctx) {
		row := df.Row()
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprintf("%v", v)
		}
		records = append(records, record)
		count++
	}
	return count, records, df.Err()
}

// readTableRows reads back every row of the manifest's currently
// committed version, across all of that version's part files, so Upsert
// and Replace can operate on the table's existing content rather than
// blindly appending or wiping it.
func readTableRows(tablePath string, manifest deltaManifest) ([]string, [][]string, error) {
	entry, ok := manifest.Versions[strconv.FormatInt(manifest.Version, 10)]
	if !ok {
		return nil, nil, nil
	}

	var header []string
	var rows [][]string
	for _, file := range entry.Files {
		f, err := os.Open(filepath.Join(tablePath, file))
		if err != nil {
			return nil, nil, err
		}
		scanner := bufio.NewScanner(f)
		first := true
		for scanner.Scan() {
			fields := strings.Split(scanner.Text(), ",")
			if first {
				if header == nil {
					header = fields
				}
				first = false
				continue
			}
			rows = append(rows, fields)
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return nil, nil, scanErr
		}
	}
	return header, rows, nil
}

// writeRowsAsParts writes an already-materialized set of records (as
// opposed to writeBatchedPart's streaming-from-df variant) into
// insertBatchSize-row CSV part files, used by Upsert and Replace once
// they have computed the table's new full row set.
func writeRowsAsParts(path, prefix string, sch schema.Schema, rows [][]string) ([]string, error) {
	header := make([]string, len(sch.Fields))
	for i, f := range sch.Fields {
		header[i] = f.Name
	}

	var files []string
	var cw *os.File
	partIdx := 0
	rowsInPart := insertBatchSize
	closeCurrent := func() error {
		if cw != nil {
			err := cw.Close()
			cw = nil
			return err
		}
		return nil
	}

	openPart := func() error {
		if err := closeCurrent(); err != nil {
			return err
		}
		name := fmt.Sprintf("%spart-%05d.csv", prefix, partIdx)
		partIdx++
		f, err := os.Create(filepath.Join(path, name))
		if err != nil {
			return err
		}
		if _, err := f.WriteString(joinCSVRow(header) + "\n"); err != nil {
			f.Close()
			return err
		}
		cw = f
		files = append(files, name)
		rowsInPart = 0
		return nil
	}

	for _, row := range rows {
		if rowsInPart >= insertBatchSize {
			if err := openPart(); err != nil {
				return files, err
			}
		}
		if _, err := cw.WriteString(joinCSVRow(row) + "\n"); err != nil {
			return files, err
		}
		rowsInPart++
	}
	if err := closeCurrent(); err != nil {
		return files, err
	}

	// A merge/replace that lands on zero rows still needs a file so the
	// version's manifest entry isn't dangling.
	if len(files) == 0 {
		if err := openPart(); err != nil {
			return files, err
		}
		if err := closeCurrent(); err != nil {
			return files, err
		}
	}
	return files, nil
}

func joinCSVRow(fields []string) string {
	return strings.Join(fields, ",")
}

// writeBatchedPart streams df into insertBatchSize-row CSV part files
// under path, returning the row count and the list of file names
// written, the way the teacher's replay.Applier flushes fixed-size
// batches instead of buffering a whole result set. Used by Append,
// which never needs to look at the table's existing rows.
func writeBatchedPart(ctx context.Context, path string, prefix string, sch schema.Schema, df sqlengine.DataFrame) (int, []string, error) {
	header := make([]string, len(sch.Fields))
	for i, field := range sch.Fields {
		header[i] = field.Name
	}

	var files []string
	var cw *os.File
	count := 0
	partIdx := 0
	rowsInPart := insertBatchSize
	closeCurrent := func() error {
		if cw != nil {
			err := cw.Close()
			cw = nil
			return err
		}
		return nil
	}

	for df.Next(ctx) {
		if rowsInPart >= insertBatchSize {
			if err := closeCurrent(); err != nil {
				return count, files, aqerrors.New(aqerrors.Storage, "delta-write", err)
			}
			name := fmt.Sprintf("%spart-%05d.csv", prefix, partIdx)
			partIdx++
			f, err := os.Create(filepath.Join(path, name))
			if err != nil {
				return count, files, aqerrors.New(aqerrors.Storage, "delta-write", err)
			}
			if _, err := f.WriteString(joinCSVRow(header) + "\n"); err != nil {
				f.Close()
				return count, files, aqerrors.New(aqerrors.Storage, "delta-write", err)
			}
			cw = f
			files = append(files, name)
			rowsInPart = 0
		}

		row := df.Row()
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprintf("%v", v)
		}
		if _, err := cw.WriteString(joinCSVRow(record) + "\n"); err != nil {
			return count, files, aqerrors.New(aqerrors.Storage, "delta-write", err)
		}
		count++
		rowsInPart++
	}
	if err := closeCurrent(); err != nil {
		return count, files, aqerrors.New(aqerrors.Storage, "delta-write", err)
	}
	return count, files, df.Err()
}

func (w *Writer) deltaAppend(ctx context.Context, dest pipeline.Destination, sch schema.Schema, df sqlengine.DataFrame, manifest deltaManifest) (int, error) {
	count, files, err := writeBatchedPart(ctx, dest.Path, fmt.Sprintf("append-v%d-", len(manifest.Versions)), sch, df)
	if err != nil {
		return count, err
	}
	return commitDeltaVersion(dest, sch, manifest, files, count)
}

// deltaReplace deletes every existing row matching dest.Predicates (the
// conjunction of its column=value equalities), then appends the new
// dataset, leaving rows that don't match the predicate untouched:
// replacing date='2024-01-01' must not disturb date='2024-01-02' rows.
func (w *Writer) deltaReplace(ctx context.Context, dest pipeline.Destination, sch schema.Schema, df sqlengine.DataFrame, manifest deltaManifest) (int, error) {
	header, existingRows, err := readTableRows(dest.Path, manifest)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}

	headerPos := make(map[string]int, len(header))
	for i, h := range header {
		headerPos[h] = i
	}

	kept := make([][]string, 0, len(existingRows))
	for _, row := range existingRows {
		if !matchesPredicates(row, headerPos, dest.Predicates) {
			kept = append(kept, row)
		}
	}

	count, newRecords, err := collectRecords(ctx, df)
	if err != nil {
		return count, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}
	merged := append(kept, newRecords...)

	files, err := writeRowsAsParts(dest.Path, fmt.Sprintf("replace-v%d-", len(manifest.Versions)), sch, merged)
	if err != nil {
		return count, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}
	return commitDeltaVersionRewrite(dest, sch, manifest, files, count)
}

// matchesPredicates reports whether row satisfies every predicate (a
// conjunction): a row with no predicates configured never matches,
// since Replace without predicates is rejected by validate.go.
func matchesPredicates(row []string, headerPos map[string]int, predicates []pipeline.Predicate) bool {
	if len(predicates) == 0 {
		return false
	}
	for _, p := range predicates {
		idx, ok := headerPos[p.Column]
		if !ok || idx >= len(row) || row[idx] != p.Value {
			return false
		}
	}
	return true
}

// deltaUpsert merges the new dataset into the table's existing rows by
// dest.MergeKeys: a new row whose key matches an existing row overwrites
// it in place; an unmatched new row is inserted. Running the same
// dataset through Upsert twice produces byte-identical output, since the
// second pass matches every row it already wrote and overwrites it with
// the same values in the same position.
func (w *Writer) deltaUpsert(ctx context.Context, dest pipeline.Destination, sch schema.Schema, df sqlengine.DataFrame, manifest deltaManifest) (int, error) {
	header, existingRows, err := readTableRows(dest.Path, manifest)
	if err != nil {
		return 0, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}

	colIdx := make(map[string]int, len(sch.Fields))
	for i, f := range sch.Fields {
		colIdx[f.Name] = i
	}
	keyIdx := make([]int, len(dest.MergeKeys))
	for i, k := range dest.MergeKeys {
		idx, ok := colIdx[k]
		if !ok {
			return 0, aqerrors.Newf(aqerrors.Config, dest.Name, "merge key %q is not a column of the written dataset", k)
		}
		keyIdx[i] = idx
	}

	headerPos := make(map[string]int, len(header))
	for i, h := range header {
		headerPos[h] = i
	}
	existingKeyIdx := make([]int, len(dest.MergeKeys))
	for i, k := range dest.MergeKeys {
		if p, ok := headerPos[k]; ok {
			existingKeyIdx[i] = p
		} else {
			existingKeyIdx[i] = -1
		}
	}

	byKey := make(map[string]int, len(existingRows))
	for i, row := range existingRows {
		byKey[mergeKeyOf(row, existingKeyIdx)] = i
	}

	count, newRecords, err := collectRecords(ctx, df)
	if err != nil {
		return count, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}

	for _, record := range newRecords {
		key := mergeKeyOf(record, keyIdx)
		if i, ok := byKey[key]; ok {
			existingRows[i] = record
		} else {
			byKey[key] = len(existingRows)
			existingRows = append(existingRows, record)
		}
	}

	files, err := writeRowsAsParts(dest.Path, fmt.Sprintf("upsert-v%d-", len(manifest.Versions)), sch, existingRows)
	if err != nil {
		return count, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}
	return commitDeltaVersionRewrite(dest, sch, manifest, files, count)
}

// mergeKeyOf builds the composite merge-key string for one row given the
// column positions of dest.MergeKeys; a negative index (a key column
// absent from an empty first-write header) contributes an empty part.
func mergeKeyOf(row []string, idx []int) string {
	parts := make([]string, len(idx))
	for i, p := range idx {
		if p >= 0 && p < len(row) {
			parts[i] = row[p]
		}
	}
	return strings.Join(parts, "\x1f")
}

// commitDeltaVersion records a new version whose files are the prior
// version's files plus newFiles, Delta Lake's append-only log semantics.
func commitDeltaVersion(dest pipeline.Destination, sch schema.Schema, manifest deltaManifest, newFiles []string, count int) (int, error) {
	prevFiles := []string{}
	if entry, ok := manifest.Versions[strconv.FormatInt(manifest.Version, 10)]; ok {
		prevFiles = entry.Files
	}
	nextVersion := manifest.Version
	if len(manifest.Versions) > 0 {
		nextVersion++
	}
	manifest.Version = nextVersion
	manifest.Versions[strconv.FormatInt(nextVersion, 10)] = deltaVersionInfo{
		Files:  append(append([]string{}, prevFiles...), newFiles...),
		Schema: sch,
	}
	if err := writeManifest(dest.Path, manifest); err != nil {
		return count, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}
	return count, nil
}

// commitDeltaVersionRewrite records a new version whose files wholly
// replace the prior version's file list: the new files already contain
// the full, merged row set (Upsert's merge or Replace's predicate-scoped
// delete-then-append), so nothing from the prior version needs to carry
// forward. Prior files stay on disk for time-travel reads of older
// versions; only the manifest's pointer to them changes.
func commitDeltaVersionRewrite(dest pipeline.Destination, sch schema.Schema, manifest deltaManifest, newFiles []string, count int) (int, error) {
	nextVersion := manifest.Version
	if len(manifest.Versions) > 0 {
		nextVersion++
	}
	manifest.Version = nextVersion
	manifest.Versions[strconv.FormatInt(nextVersion, 10)] = deltaVersionInfo{Files: newFiles, Schema: sch}
	if err := writeManifest(dest.Path, manifest); err != nil {
		return count, aqerrors.New(aqerrors.Storage, dest.Name, err)
	}
	return count, nil
}
