package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"inn-gateway/internal/batch"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/ingress"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/quota"
	"inn-gateway/internal/result"
)

// fakeReplier records every delivery. FetchBytes serves the prepared file.
type fakeReplier struct {
	mu       sync.Mutex
	sent     []string
	edits    []string
	files    []string
	fileData []byte
}

func (f *fakeReplier) SendText(_ context.Context, chatID int64, text string) (ingress.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return ingress.MessageRef{ChatID: chatID, MessageID: len(f.sent)}, nil
}

func (f *fakeReplier) EditText(_ context.Context, _ ingress.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeReplier) SendFile(_ context.Context, _ int64, _, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, filename)
	return nil
}

func (f *fakeReplier) FetchBytes(context.Context, ingress.FileRef) ([]byte, error) {
	return f.fileData, nil
}

func (f *fakeReplier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type env struct {
	svc     *Service
	replier *fakeReplier
	cache   *cache.Store
	queue   *queue.Queue
}

func newEnv(t *testing.T, quotaLimit int, queueSize int, privateOnly bool) *env {
	t.Helper()

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.sqlite3"), time.Hour)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := observability.NewMetrics(prometheus.NewRegistry())
	q := queue.New(queueSize, m)
	replier := &fakeReplier{}
	exec := batch.NewExecutor(store, q, m, zap.NewNop(), t.TempDir())
	svc := NewService(replier, quota.New(quotaLimit), store, q, exec, m, zap.NewNop(), privateOnly)
	return &env{svc: svc, replier: replier, cache: store, queue: q}
}

// runConsumer completes every queued job with the given result.
func (e *env) runConsumer(t *testing.T, res queue.Result) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			job, ok := e.queue.Take(ctx)
			if !ok {
				return
			}
			job.Handle.Complete(res)
		}
	}()
	return cancel
}

func user() ingress.Sender {
	return ingress.Sender{UserID: 100, ChatID: 200, Private: true}
}

func TestOnTextHelp(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	for _, cmd := range []string{"/start", "/help"} {
		e.svc.OnText(context.Background(), user(), cmd)
	}

	sent := e.replier.texts()
	if len(sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sent))
	}
	for _, text := range sent {
		if !strings.Contains(text, "ИНН; ФИО") {
			t.Fatalf("help text does not describe the input format: %q", text)
		}
	}
}

func TestOnTextWhoami(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	e.svc.OnText(context.Background(), user(), "/whoami")

	sent := e.replier.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], "100") {
		t.Fatalf("sent = %v", sent)
	}
}

func TestOnTextBadFormat(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	for _, text := range []string{"2222058686", "; Иванов", "2222058686;  ", "привет"} {
		e.svc.OnText(context.Background(), user(), text)
	}

	sent := e.replier.texts()
	if len(sent) != 4 {
		t.Fatalf("sent = %d, want 4 format hints", len(sent))
	}
	if e.queue.Depth() != 0 {
		t.Fatal("malformed input reached the queue")
	}
}

func TestOnTextPrivateOnlyIgnoresGroups(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	e.svc.OnText(context.Background(), ingress.Sender{UserID: 1, ChatID: 2, Private: false}, "/help")

	if len(e.replier.texts()) != 0 {
		t.Fatal("non-private chat got a reply with private-only enabled")
	}
}

func TestOnTextQuotaExhausted(t *testing.T) {
	e := newEnv(t, 2, 10, true)
	cancel := e.runConsumer(t, queue.Result{Status: result.StatusOK, Text: "ok"})
	defer cancel()

	for i := 0; i < 3; i++ {
		e.svc.OnText(context.Background(), user(), fmt.Sprintf("%d; Иванов", i))
	}

	sent := e.replier.texts()
	last := sent[len(sent)-1]
	if !strings.Contains(last, "Лимит запросов в час") || !strings.Contains(last, "мин") {
		t.Fatalf("last reply = %q, want the quota message with minutes", last)
	}
}

func TestOnTextCacheHitSkipsQueue(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	cached := "📄 Краткая сводка\nФИО: Маркова Ольга Викторовна"
	key := result.CacheKey("2222058686", "Маркова Ольга Викторовна")
	if err := e.cache.Set(context.Background(), key, cached); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e.svc.OnText(context.Background(), user(), "2222058686; Маркова Ольга Викторовна")

	sent := e.replier.texts()
	if len(sent) != 1 || sent[0] != cached {
		t.Fatalf("sent = %v, want the cached projection only", sent)
	}
	if e.queue.Depth() != 0 {
		t.Fatal("cache hit was enqueued")
	}
}

func TestOnTextStatusLineThenResult(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	cancel := e.runConsumer(t, queue.Result{Status: result.StatusOK, Text: "📄 Краткая сводка\nФИО: Иванов"})
	defer cancel()

	e.svc.OnText(context.Background(), user(), "2222058686; Иванов")

	sent := e.replier.texts()
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want status line then result", sent)
	}
	if !strings.Contains(sent[0], "Отправляю") {
		t.Fatalf("first message = %q, want the status line", sent[0])
	}
	if !strings.Contains(sent[1], "Краткая сводка") {
		t.Fatalf("second message = %q, want the result", sent[1])
	}
}

func TestOnTextQueueFull(t *testing.T) {
	e := newEnv(t, 10, 1, true)
	// Occupy the only slot; nothing consumes it.
	if err := e.queue.Put(queue.NewJob(1, 1, "1", "x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	e.svc.OnText(context.Background(), user(), "2222058686; Иванов")

	sent := e.replier.texts()
	last := sent[len(sent)-1]
	if !strings.Contains(last, "переполнена") {
		t.Fatalf("last reply = %q, want the queue-full message", last)
	}
}

func batchFile(t *testing.T, rows [][]string) []byte {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close()
	if err := wb.SetSheetRow("Sheet1", "A1", &[]interface{}{"ИНН", "ФИО"}); err != nil {
		t.Fatalf("SetSheetRow: %v", err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		cells := []interface{}{row[0], row[1]}
		if err := wb.SetSheetRow("Sheet1", cell, &cells); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestOnDocumentRejectsNonXLSX(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	e.svc.OnDocument(context.Background(), user(), ingress.FileRef{ID: "f1", Name: "rows.csv"})

	sent := e.replier.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], ".xlsx") {
		t.Fatalf("sent = %v, want the xlsx-only hint", sent)
	}
}

func TestOnDocumentBatchDeliversOutput(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	e.replier.fileData = batchFile(t, [][]string{{"111", "Иванов"}, {"222", "Петров"}})
	cancel := e.runConsumer(t, queue.Result{
		Status: result.StatusOK,
		Text:   "📄 Краткая сводка\nФИО: Иванов",
		Fields: result.Fields{FIO: "Иванов"},
	})
	defer cancel()

	e.svc.OnDocument(context.Background(), user(), ingress.FileRef{ID: "f1", Name: "Запросы.XLSX"})

	if len(e.replier.files) != 1 || !strings.HasPrefix(e.replier.files[0], "output_") {
		t.Fatalf("files = %v, want one output workbook", e.replier.files)
	}
	found := false
	for _, text := range e.replier.texts() {
		if strings.Contains(text, "обработано 2") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no completion message in %v", e.replier.texts())
	}
}

func TestOnDocumentLimitSendsPending(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	e.replier.fileData = batchFile(t, [][]string{{"111", "Иванов"}, {"222", "Петров"}})
	cancel := e.runConsumer(t, queue.Result{Status: result.StatusLimit, Text: "limit"})
	defer cancel()

	e.svc.OnDocument(context.Background(), user(), ingress.FileRef{ID: "f1", Name: "rows.xlsx"})

	if len(e.replier.files) != 2 {
		t.Fatalf("files = %v, want output and pending", e.replier.files)
	}
	if !strings.HasPrefix(e.replier.files[1], "pending_") {
		t.Fatalf("second file = %q, want pending workbook", e.replier.files[1])
	}
}

func TestOnDocumentChargesQuotaOncePerFile(t *testing.T) {
	e := newEnv(t, 1, 10, true)
	e.replier.fileData = batchFile(t, [][]string{
		{"111", "Иванов"}, {"222", "Петров"}, {"333", "Сидоров"},
	})
	cancel := e.runConsumer(t, queue.Result{Status: result.StatusOK, Text: "ok"})
	defer cancel()

	e.svc.OnDocument(context.Background(), user(), ingress.FileRef{ID: "f1", Name: "rows.xlsx"})

	// Three rows went through on a quota of one, so the file was charged
	// once. The next file must be rejected.
	if len(e.replier.files) != 1 {
		t.Fatalf("files = %v, want the full output despite quota=1", e.replier.files)
	}
	e.svc.OnDocument(context.Background(), user(), ingress.FileRef{ID: "f2", Name: "rows.xlsx"})
	sent := e.replier.texts()
	if !strings.Contains(sent[len(sent)-1], "Лимит запросов в час") {
		t.Fatalf("second file not quota-rejected: %v", sent)
	}
}

func TestOnDocumentProgressPlaceholder(t *testing.T) {
	e := newEnv(t, 10, 10, true)
	e.replier.fileData = batchFile(t, [][]string{{"111", "Иванов"}, {"222", "Петров"}})
	cancel := e.runConsumer(t, queue.Result{Status: result.StatusOK, Text: "ok"})
	defer cancel()

	e.svc.OnDocument(context.Background(), user(), ingress.FileRef{ID: "f1", Name: "rows.xlsx"})

	// The row count is unknown until the file is parsed, so the first
	// message must be the neutral placeholder, never a zero count.
	for _, text := range append(e.replier.texts(), e.replier.edits...) {
		if strings.Contains(text, "0 из 0") {
			t.Fatalf("progress rendered a zero count: %q", text)
		}
	}
	if len(e.replier.edits) == 0 {
		t.Fatal("no progress edit after the batch finished")
	}
	if last := e.replier.edits[len(e.replier.edits)-1]; !strings.Contains(last, "2 из 2") {
		t.Fatalf("final progress edit = %q, want the full 2-of-2 count", last)
	}
}
