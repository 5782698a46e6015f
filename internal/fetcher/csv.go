// Package fetcher downloads remote CSV files and streams their rows.
package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	// HasHeader treats the first record as a header. It is not sent on the
	// row channel; HeaderCh receives it when set.
	HasHeader bool
	HeaderCh  chan<- []string

	// LazyQuotes tolerates stray quotes inside unquoted fields, which the
	// CDC exports contain.
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV parses r on a separate goroutine and sends each record on the
// returned row channel. Rows may have differing field counts. At most one
// error is sent on the error channel; both channels are closed when parsing
// stops. The caller must drain the row channel.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		if err := streamRecords(ctx, r, opts, rowCh); err != nil {
			errCh <- err
		}
	}()

	return rowCh, errCh
}

func streamRecords(ctx context.Context, r io.Reader, opts CSVOptions, rowCh chan<- []string) error {
	reader := csv.NewReader(r)
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "csv: read record %d", n+1)
		}
		if opts.TrimSpace {
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}
		}

		out := rowCh
		if n == 0 && opts.HasHeader {
			if opts.HeaderCh == nil {
				continue
			}
			out = opts.HeaderCh
		}

		select {
		case out <- record:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
	}
}

// HeaderIndex maps case-insensitive column names to their position in a row.
type HeaderIndex map[string]int

// NewHeaderIndex builds an index from a header row. A UTF-8 byte order mark
// on the first column is ignored. Duplicate names keep the first position.
func NewHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		key := normalizeColumn(col)
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// Require returns an error naming every column in names that is absent.
func (h HeaderIndex) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := h[normalizeColumn(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("csv: missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the trimmed value of the named column, or "" when the column is
// unknown or the row is short.
func (h HeaderIndex) Get(record []string, name string) string {
	i, ok := h[normalizeColumn(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func normalizeColumn(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
