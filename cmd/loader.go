package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	everr "github.com/adalundhe/aligneval/core/errors"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Embedding files
// =============================================================================

// loadMatrix reads an embedding block. Files ending in .bin hold a gonum
// binary-encoded matrix; anything else is text with one entity per line and
// values separated by whitespace or commas. Blank lines and lines starting
// with # are skipped.
func loadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isBinary(path) {
		var m mat.Dense
		if _, err := m.UnmarshalBinaryFrom(f); err != nil {
			return nil, everr.New(everr.KindInvalidInput, "decode "+path, err)
		}
		return &m, nil
	}

	var (
		data []float64
		rows int
		cols int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if rows == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, everr.Newf(everr.KindInvalidInput,
				"%s:%d: expected %d values, found %d", path, line, cols, len(fields))
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, everr.New(everr.KindInvalidInput, fmt.Sprintf("%s:%d", path, line), err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 {
		return nil, everr.Newf(everr.KindInvalidInput, "%s: no embedding rows", path)
	}
	return mat.NewDense(rows, cols, data), nil
}

// saveMatrix writes m in the format implied by the extension of path.
func saveMatrix(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if isBinary(path) {
		if _, err := m.MarshalBinaryTo(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	w := bufio.NewWriter(f)
	rows, _ := m.Dims()
	for i := range rows {
		for j, v := range m.RawRowView(i) {
			if j > 0 {
				w.WriteByte('\t')
			}
			w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isBinary(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".bin")
}

// =============================================================================
// Dictionary files
// =============================================================================

// loadDictionary reads "ref<TAB>candidate" lines into a remap dictionary.
func loadDictionary(path string) (map[int]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dict := make(map[int]int)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, everr.Newf(everr.KindInvalidInput, "%s:%d: expected 2 fields, found %d", path, line, len(fields))
		}
		ref, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, everr.New(everr.KindInvalidInput, fmt.Sprintf("%s:%d", path, line), err)
		}
		candidate, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, everr.New(everr.KindInvalidInput, fmt.Sprintf("%s:%d", path, line), err)
		}
		dict[ref] = candidate
	}
	return dict, scanner.Err()
}
