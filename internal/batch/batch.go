// Package batch runs spreadsheet lookups: parse INN/FIO rows, feed them
// through the cache and the job queue one by one, and assemble the output
// and pending workbooks.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/result"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Recognized header spellings, compared after trim, lowercase and
// whitespace collapse.
var (
	innHeaders = map[string]bool{"инн": true, "inn": true, "tax_id": true, "taxid": true}
	fioHeaders = map[string]bool{"фио": true, "fio": true, "full_name": true, "fullname": true, "name": true}
)

// ErrColumns means the header row lacks a recognizable INN or FIO column.
var ErrColumns = errors.New("no INN/FIO columns in the header row")

// Row is one extracted input row. Index is the 1-based spreadsheet row.
type Row struct {
	Index int
	INN   string
	FIO   string
}

// ParseInput reads the first sheet of an xlsx byte stream and extracts the
// INN/FIO pairs. Rows where both values are empty are dropped.
func ParseInput(data []byte) ([]Row, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	rows, err := wb.GetRows(wb.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrColumns
	}

	innCol, fioCol, err := findColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var out []Row
	for i, cells := range rows[1:] {
		inn := normalizeINN(cellAt(cells, innCol))
		fio := strings.TrimSpace(cellAt(cells, fioCol))
		if inn == "" && fio == "" {
			continue
		}
		out = append(out, Row{Index: i + 2, INN: inn, FIO: fio})
	}
	return out, nil
}

// findColumns resolves the INN and FIO columns as the first header matching
// each synonym set.
func findColumns(headers []string) (int, int, error) {
	innCol, fioCol := -1, -1
	for idx, h := range headers {
		nh := normalizeHeader(h)
		if innHeaders[nh] && innCol == -1 {
			innCol = idx
		}
		if fioHeaders[nh] && fioCol == -1 {
			fioCol = idx
		}
	}
	if innCol == -1 || fioCol == -1 {
		return 0, 0, fmt.Errorf("%w: got %v", ErrColumns, headers)
	}
	return innCol, fioCol, nil
}

func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// normalizeINN undoes spreadsheet float formatting: integral numeric values
// such as "2222058686.0" (or their scientific renderings) come back as the
// plain digit string. Anything else is just trimmed.
func normalizeINN(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, ".eE") {
		return s
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

func cellAt(cells []string, idx int) string {
	if idx < len(cells) {
		return cells[idx]
	}
	return ""
}

// Progress is called with the processed and total row counts as a batch
// advances.
type Progress func(done, total int)

// Report is what a finished batch hands back to the ingress side. Paths
// point at temp files; names are the user-visible filenames.
type Report struct {
	OutputPath  string
	OutputName  string
	PendingPath string
	PendingName string
	Processed   int
	Pending     int
	Limited     bool
}

type rowResult struct {
	inn, fio, phone, email string
	status                 result.Status
}

// Executor owns one batch run at a time. Rows go through the same cache and
// queue as interactive lookups, one in flight at a time.
type Executor struct {
	cache   *cache.Store
	queue   *queue.Queue
	metrics *observability.Metrics
	logger  *zap.Logger
	dir     string
	now     func() time.Time
}

// NewExecutor builds an executor writing result files under dir; an empty
// dir means the system temp directory.
func NewExecutor(c *cache.Store, q *queue.Queue, m *observability.Metrics, logger *zap.Logger, dir string) *Executor {
	return &Executor{
		cache:   c,
		queue:   q,
		metrics: m,
		logger:  logger,
		dir:     dir,
		now:     time.Now,
	}
}

// Run processes the spreadsheet in row order. A LIMIT status stops the run:
// the failing row and everything after it land in the pending file. The
// output file is always produced, even when empty.
func (e *Executor) Run(ctx context.Context, userID, chatID int64, data []byte, progress Progress) (*Report, error) {
	rows, err := ParseInput(data)
	if err != nil {
		return nil, err
	}

	e.logger.Info("batch started",
		zap.Int64("user_id", userID),
		zap.Int("rows", len(rows)))

	var (
		results  []rowResult
		pending  []Row
		limited  bool
		reported int
	)

	for i, row := range rows {
		res, err := e.lookupRow(ctx, userID, chatID, row)
		if err != nil {
			e.metrics.BatchRowsTotal.WithLabelValues("error").Inc()
			results = append(results, rowResult{inn: row.INN, fio: row.FIO, status: result.StatusError})
		} else if res.Status == result.StatusLimit {
			limited = true
			pending = rows[i:]
			e.metrics.BatchRowsTotal.WithLabelValues("pending").Add(float64(len(pending)))
			e.logger.Warn("batch hit the upstream limit",
				zap.Int("processed", len(results)),
				zap.Int("pending", len(pending)))
			break
		} else {
			e.metrics.BatchRowsTotal.WithLabelValues(strings.ToLower(string(res.Status))).Inc()
			results = append(results, resultRow(row, res))
		}

		if progress != nil && (i+1)%10 == 0 {
			progress(i+1, len(rows))
			reported = i + 1
		}
	}

	// Final update, unless the last in-loop one already said the same.
	if progress != nil && len(results) > 0 && len(results) != reported {
		progress(len(results), len(rows))
	}

	report := &Report{
		Processed: len(results),
		Pending:   len(pending),
		Limited:   limited,
	}

	report.OutputPath, report.OutputName, err = e.writeOutput(results)
	if err != nil {
		return nil, fmt.Errorf("write output workbook: %w", err)
	}
	if len(pending) > 0 {
		report.PendingPath, report.PendingName, err = e.writePending(pending)
		if err != nil {
			return nil, fmt.Errorf("write pending workbook: %w", err)
		}
	}

	e.logger.Info("batch finished",
		zap.Int("processed", report.Processed),
		zap.Int("pending", report.Pending),
		zap.Bool("limited", report.Limited))
	return report, nil
}

// lookupRow answers one row from the cache when possible, otherwise through
// a queued job.
func (e *Executor) lookupRow(ctx context.Context, userID, chatID int64, row Row) (queue.Result, error) {
	key := result.CacheKey(row.INN, row.FIO)
	entry, ok, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		e.metrics.CacheErrorsTotal.Inc()
		e.logger.Error("cache get failed", zap.Error(err))
	case ok:
		e.metrics.CacheHitsTotal.Inc()
		return queue.Result{
			Status: result.StatusOK,
			Text:   entry.Value,
			Fields: result.ParseFields(entry.Value),
		}, nil
	default:
		e.metrics.CacheMissesTotal.Inc()
	}

	job := queue.NewJob(userID, chatID, row.INN, row.FIO)
	if err := e.queue.Put(job); err != nil {
		return queue.Result{}, err
	}
	return job.Handle.Wait(ctx)
}

func resultRow(row Row, res queue.Result) rowResult {
	fio := row.FIO
	if res.Fields.FIO != "" {
		fio = res.Fields.FIO
	}
	return rowResult{
		inn:    row.INN,
		fio:    fio,
		phone:  res.Fields.Phone,
		email:  res.Fields.Email,
		status: res.Status,
	}
}

func (e *Executor) writeOutput(results []rowResult) (string, string, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	const sheet = "results"
	if err := wb.SetSheetName("Sheet1", sheet); err != nil {
		return "", "", err
	}
	if err := wb.SetSheetRow(sheet, "A1", &[]interface{}{"ИНН", "ФИО", "Телефон", "Email", "Статус"}); err != nil {
		return "", "", err
	}
	for i, r := range results {
		cell := fmt.Sprintf("A%d", i+2)
		row := []interface{}{r.inn, r.fio, r.phone, r.email, string(r.status)}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return "", "", err
		}
	}
	return e.save(wb, "output")
}

func (e *Executor) writePending(pending []Row) (string, string, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	const sheet = "pending"
	if err := wb.SetSheetName("Sheet1", sheet); err != nil {
		return "", "", err
	}
	if err := wb.SetSheetRow(sheet, "A1", &[]interface{}{"ИНН", "ФИО"}); err != nil {
		return "", "", err
	}
	for i, r := range pending {
		cell := fmt.Sprintf("A%d", i+2)
		row := []interface{}{r.INN, r.FIO}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return "", "", err
		}
	}
	return e.save(wb, "pending")
}

// save writes the workbook to a temp file and returns its path plus the
// user-visible timestamped filename.
func (e *Executor) save(wb *excelize.File, prefix string) (string, string, error) {
	tmp, err := os.CreateTemp(e.dir, "gateway_*.xlsx")
	if err != nil {
		return "", "", err
	}
	defer tmp.Close()

	if err := wb.Write(tmp); err != nil {
		os.Remove(tmp.Name())
		return "", "", err
	}

	name := fmt.Sprintf("%s_%s.xlsx", prefix, e.now().Format("2006-01-02_15-04"))
	return tmp.Name(), name, nil
}
