package journal

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/riskengine/market"
)

// csvHeader keeps the operator-facing columns first so the files stay readable
// in a spreadsheet; the rest are what restart recovery needs.
var csvHeader = []string{
	"timestamp", "action", "symbol", "price", "lot", "result",
	"strategy", "direction", "ticket", "pnl", "reason", "id",
}

var equityHeader = []string{"time", "balance", "equity", "margin_used", "free_margin", "margin_level"}

// CSV writes one append-only file per pair, <dir>/<Strategy>_<Instrument>.csv,
// plus <dir>/equity.csv.
type CSV struct {
	dir string

	mu    sync.Mutex
	files map[string]*csvFile
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CSV{dir: dir, files: make(map[string]*csvFile)}, nil
}

// PairPath is the file holding records for one strategy on one instrument.
func (j *CSV) PairPath(strategy, instrument string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s_%s.csv", strategy, instrument))
}

func (j *CSV) Record(_ context.Context, r Record) error {
	r = stamp(r)
	j.mu.Lock()
	defer j.mu.Unlock()

	cf, err := j.open(j.PairPath(r.Strategy, r.Instrument), csvHeader)
	if err != nil {
		return err
	}
	return cf.write([]string{
		r.Time.UTC().Format(time.RFC3339),
		string(r.Action),
		r.Instrument,
		f(r.Price),
		f(r.Volume),
		string(r.Outcome),
		r.Strategy,
		r.Direction.String(),
		r.Ticket,
		f(r.RealizedPnL),
		r.Reason,
		r.ID,
	})
}

func (j *CSV) RecordEquity(_ context.Context, e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cf, err := j.open(filepath.Join(j.dir, "equity.csv"), equityHeader)
	if err != nil {
		return err
	}
	return cf.write([]string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.FreeMargin),
		f(e.MarginLevel),
	})
}

// open returns the writer for path, creating the file with header if needed.
func (j *CSV) open(path string, header []string) (*csvFile, error) {
	if cf, ok := j.files[path]; ok {
		return cf, nil
	}

	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, err
	}

	cf := &csvFile{f: fh, w: csv.NewWriter(fh)}
	if st.Size() == 0 {
		if err := cf.write(header); err != nil {
			_ = fh.Close()
			return nil, err
		}
	}
	j.files[path] = cf
	return cf, nil
}

func (cf *csvFile) write(row []string) error {
	if err := cf.w.Write(row); err != nil {
		return err
	}
	cf.w.Flush()
	return cf.w.Error()
}

// ListRecords reads the pair file back. Both Strategy and Instrument must be
// set since the pair selects the file.
func (j *CSV) ListRecords(_ context.Context, flt Filter) ([]Record, error) {
	if flt.Strategy == "" || flt.Instrument == "" {
		return nil, errors.New("csv journal: filter needs strategy and instrument")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	fh, err := os.Open(j.PairPath(flt.Strategy, flt.Instrument))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1

	var out []Record
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Name(), err)
		}
		if line == 1 && len(row) > 0 && row[0] == csvHeader[0] {
			continue
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", fh.Name(), line, err)
		}
		if rec.Strategy == "" {
			rec.Strategy = flt.Strategy
		}
		if flt.match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func parseRow(row []string) (Record, error) {
	var rec Record
	if len(row) < 6 {
		return rec, fmt.Errorf("want at least 6 fields, got %d", len(row))
	}

	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return rec, err
	}
	rec.Time = ts.UTC()
	rec.Action = Action(row[1])
	rec.Instrument = row[2]
	if rec.Price, err = strconv.ParseFloat(row[3], 64); err != nil {
		return rec, fmt.Errorf("price: %w", err)
	}
	if rec.Volume, err = strconv.ParseFloat(row[4], 64); err != nil {
		return rec, fmt.Errorf("lot: %w", err)
	}
	rec.Outcome = Outcome(row[5])

	// Older files carry only the six operator columns.
	if len(row) < len(csvHeader) {
		return rec, nil
	}
	rec.Strategy = row[6]
	if rec.Direction, err = market.ParseDirection(row[7]); err != nil {
		return rec, err
	}
	rec.Ticket = row[8]
	if rec.RealizedPnL, err = strconv.ParseFloat(row[9], 64); err != nil {
		return rec, fmt.Errorf("pnl: %w", err)
	}
	rec.Reason = row[10]
	rec.ID = row[11]
	return rec, nil
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for path, cf := range j.files {
		cf.w.Flush()
		errs = append(errs, cf.w.Error(), cf.f.Close())
		delete(j.files, path)
	}
	return errors.Join(errs...)
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
