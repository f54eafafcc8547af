package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/zyliufeng123/zhiguan-system/internal/catalog"
	"github.com/zyliufeng123/zhiguan-system/internal/domain"
	"github.com/zyliufeng123/zhiguan-system/internal/repository"
	"github.com/zyliufeng123/zhiguan-system/internal/staging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memFile struct {
	name string
	data []byte
}

type memSource struct {
	files map[string]memFile
}

func (s *memSource) Open(ref string) (string, io.ReadCloser, error) {
	f, ok := s.files[ref]
	if !ok {
		return "", nil, staging.ErrNotStaged
	}
	return f.name, io.NopCloser(bytes.NewReader(f.data)), nil
}

type memProducts struct {
	mu       sync.Mutex
	products []domain.Product
	nextID   int64
}

func (m *memProducts) GetByNormalizedName(_ context.Context, key string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.NormalizedName == key {
			return p, nil
		}
	}
	return domain.Product{}, repository.ErrNotFound
}

func (m *memProducts) CreateOrFetch(_ context.Context, name, normalizedName string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.NormalizedName == normalizedName {
			return p, nil
		}
	}
	m.nextID++
	p := domain.Product{ID: m.nextID, Name: name, NormalizedName: normalizedName}
	m.products = append(m.products, p)
	return p, nil
}

func (m *memProducts) List(_ context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Product(nil), m.products...), nil
}

func (m *memProducts) Search(_ context.Context, _ string, _ int) ([]domain.Product, error) {
	return m.List(context.Background())
}

type memPrices struct {
	mu     sync.Mutex
	recs   []domain.PriceRec
	nextID int64
}

func (m *memPrices) Find(_ context.Context, productID int64, company, month string) (domain.PriceRec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ProductID == productID && r.Company == company && r.Month == month {
			return r, nil
		}
	}
	return domain.PriceRec{}, repository.ErrNotFound
}

func (m *memPrices) Insert(_ context.Context, rec domain.PriceRec) (domain.PriceRec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.recs = append(m.recs, rec)
	return rec, nil
}

func (m *memPrices) Update(_ context.Context, id int64, upd repository.PriceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.recs {
		if r.ID == id {
			m.recs[i].Price = upd.Price
			m.recs[i].Quantity = upd.Quantity
			m.recs[i].PriceType = upd.PriceType
			m.recs[i].Source = upd.Source
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memPrices) ListByProduct(_ context.Context, productID int64) ([]domain.PriceRec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceRec
	for _, r := range m.recs {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	return out, nil
}

type progressUpdate struct {
	success, failed, skipped int
}

type memTasks struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*domain.ImportTask
	errors   []domain.ImportError
	progress []progressUpdate
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: map[uuid.UUID]*domain.ImportTask{}}
}

func (m *memTasks) Create(_ context.Context, task domain.ImportTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := task
	m.tasks[task.ID] = &t
	return nil
}

func (m *memTasks) Get(_ context.Context, id uuid.UUID) (domain.ImportTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ImportTask{}, repository.ErrNotFound
	}
	return *t, nil
}

func (m *memTasks) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return m.mutate(id, func(t *domain.ImportTask) { t.Status = domain.TaskProcessing })
}

func (m *memTasks) SetTotal(_ context.Context, id uuid.UUID, total int) error {
	return m.mutate(id, func(t *domain.ImportTask) { t.Total = total })
}

func (m *memTasks) UpdateProgress(_ context.Context, id uuid.UUID, success, failed, skipped int) error {
	m.mu.Lock()
	m.progress = append(m.progress, progressUpdate{success, failed, skipped})
	m.mu.Unlock()
	return m.mutate(id, func(t *domain.ImportTask) {
		t.Success, t.Failed, t.Skipped = success, failed, skipped
	})
}

func (m *memTasks) Complete(_ context.Context, id uuid.UUID, success, failed, skipped int) error {
	return m.mutate(id, func(t *domain.ImportTask) {
		t.Status = domain.TaskCompleted
		t.Success, t.Failed, t.Skipped = success, failed, skipped
	})
}

func (m *memTasks) Fail(_ context.Context, id uuid.UUID, message string) error {
	return m.mutate(id, func(t *domain.ImportTask) {
		t.Status = domain.TaskFailed
		t.ErrorMessage = message
	})
}

func (m *memTasks) RecordError(_ context.Context, e domain.ImportError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, e)
	return nil
}

func (m *memTasks) ListErrors(_ context.Context, id uuid.UUID, limit int) ([]domain.ImportError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ImportError
	for _, e := range m.errors {
		if e.TaskID == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNo < out[j].RowNo })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) mutate(id uuid.UUID, fn func(*domain.ImportTask)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(t)
	return nil
}

type fixture struct {
	products *memProducts
	prices   *memPrices
	tasks    *memTasks
	source   *memSource
}

func newFixture(files map[string]memFile) *fixture {
	return &fixture{
		products: &memProducts{},
		prices:   &memPrices{},
		tasks:    newMemTasks(),
		source:   &memSource{files: files},
	}
}

func (f *fixture) newService() (*Service, *Runner) {
	runner := NewRunner(2, 16, nil)
	matcher := catalog.NewProductMatcher(f.products, nil)
	svc := NewService(f.products, f.prices, f.tasks, matcher, f.source, runner, zap.NewNop())
	return svc, runner
}

// runTask submits one job and drains the pool so the result is final.
func runTask(t *testing.T, f *fixture, req SubmitRequest) Status {
	t.Helper()
	svc, runner := f.newService()
	task, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	// A poll immediately after submission must find a record.
	early, err := svc.Status(context.Background(), task.ID)
	require.NoError(t, err)
	require.Contains(t, []domain.TaskStatus{
		domain.TaskPending, domain.TaskProcessing, domain.TaskCompleted, domain.TaskFailed,
	}, early.Status)

	runner.Close()

	final, err := svc.Status(context.Background(), task.ID)
	require.NoError(t, err)
	return final
}

func priceMapping() domain.Mapping {
	return domain.Mapping{
		NameColumn: "name",
		DateColumn: "date",
		ValueGroups: []domain.ValueGroup{
			{Column: "price", Company: "Acme"},
		},
	}
}

func TestImportDeduplicatesAndExcludesBlankNames(t *testing.T) {
	csv := "name,date,price\n" +
		"Widget A,2024-03-10,10.5\n" +
		"widget a (export),2024-04-02,12\n" +
		",2024-05-01,9\n"
	f := newFixture(map[string]memFile{"ref": {name: "quotes.csv", data: []byte(csv)}})

	status := runTask(t, f, SubmitRequest{
		DataRef:      "ref",
		Mapping:      priceMapping(),
		ConflictMode: domain.ConflictSkip,
	})

	assert.Equal(t, domain.TaskCompleted, status.Status)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 2, status.Success)
	assert.Equal(t, 0, status.Failed)
	assert.LessOrEqual(t, status.Success+status.Failed, status.Total)

	// Both non-blank rows resolve to one canonical product.
	require.Len(t, f.products.products, 1)
	assert.Equal(t, "Widget A", f.products.products[0].Name)
	assert.Equal(t, "widget a", f.products.products[0].NormalizedName)

	require.Len(t, f.prices.recs, 2)
	months := []string{f.prices.recs[0].Month, f.prices.recs[1].Month}
	assert.ElementsMatch(t, []string{"2024-03", "2024-04"}, months)
	assert.True(t, f.prices.recs[0].Price.Equal(decimal.RequireFromString("10.5")))
}

func TestReimportSkipKeepsExistingValue(t *testing.T) {
	first := "name,date,price\nWidget A,2024-03-10,10\n"
	second := "name,date,price\nWidget A,2024-03-10,99\n"
	f := newFixture(map[string]memFile{
		"ref1": {name: "first.csv", data: []byte(first)},
		"ref2": {name: "second.csv", data: []byte(second)},
	})

	runTask(t, f, SubmitRequest{DataRef: "ref1", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})
	status := runTask(t, f, SubmitRequest{DataRef: "ref2", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})

	assert.Equal(t, domain.TaskCompleted, status.Status)
	assert.Equal(t, 0, status.Success)
	assert.Equal(t, 0, status.Failed)
	assert.Equal(t, 1, status.Skipped)

	require.Len(t, f.prices.recs, 1)
	assert.True(t, f.prices.recs[0].Price.Equal(decimal.RequireFromString("10")))
}

func TestReimportOverwriteReplacesValue(t *testing.T) {
	first := "name,date,price\nWidget A,2024-03-10,10\n"
	second := "name,date,price\nWidget A,2024-03-10,99\n"
	f := newFixture(map[string]memFile{
		"ref1": {name: "first.csv", data: []byte(first)},
		"ref2": {name: "second.csv", data: []byte(second)},
	})

	runTask(t, f, SubmitRequest{DataRef: "ref1", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})
	status := runTask(t, f, SubmitRequest{DataRef: "ref2", Mapping: priceMapping(), ConflictMode: domain.ConflictOverwrite})

	assert.Equal(t, domain.TaskCompleted, status.Status)
	assert.Equal(t, 1, status.Success)
	assert.Equal(t, 0, status.Skipped)

	// Still exactly one record for the triple, now with the new value and
	// a dated provenance note.
	require.Len(t, f.prices.recs, 1)
	assert.True(t, f.prices.recs[0].Price.Equal(decimal.RequireFromString("99")))
	assert.Contains(t, f.prices.recs[0].Source, "overwritten ")
}

func TestNonPositivePriceIsARowError(t *testing.T) {
	csv := "name,date,price\n" +
		"Bad Widget,2024-03-10,-5\n" +
		"Good Widget,2024-03-10,7\n"
	f := newFixture(map[string]memFile{"ref": {name: "quotes.csv", data: []byte(csv)}})

	status := runTask(t, f, SubmitRequest{DataRef: "ref", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})

	assert.Equal(t, domain.TaskCompleted, status.Status)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Success)
	assert.Equal(t, 1, status.Failed)

	require.Len(t, status.Errors, 1)
	assert.Equal(t, 1, status.Errors[0].RowNo)
	assert.Contains(t, status.Errors[0].ErrorMessage, "positive")
	assert.Contains(t, status.Errors[0].RawRow, "Bad Widget")
}

func TestUnparsableValueSkipsGroupNotRow(t *testing.T) {
	mapping := domain.Mapping{
		NameColumn: "name",
		ValueGroups: []domain.ValueGroup{
			{Column: "p1", Company: "Acme"},
			{Column: "p2", Company: "Globex"},
		},
	}
	csv := "name,p1,p2\n" +
		"Widget,abc,7\n" + // first group unparsable, second written
		"Gadget,n/a,---\n" // nothing usable: silently excluded
	f := newFixture(map[string]memFile{"ref": {name: "quotes.csv", data: []byte(csv)}})

	status := runTask(t, f, SubmitRequest{DataRef: "ref", Mapping: mapping, ConflictMode: domain.ConflictSkip})

	assert.Equal(t, domain.TaskCompleted, status.Status)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Success)
	assert.Equal(t, 0, status.Failed)
	require.Len(t, f.prices.recs, 1)
	assert.Equal(t, "Globex", f.prices.recs[0].Company)
}

func TestFuzzyMatchAttachesToExistingProduct(t *testing.T) {
	f := newFixture(map[string]memFile{
		"ref": {name: "quotes.csv", data: []byte("name,date,price\nFresh Applez,2024-03-10,5\n")},
	})
	f.products.products = []domain.Product{
		{ID: 1, Name: "Fresh Apples", NormalizedName: "fresh apples"},
	}
	f.products.nextID = 1

	status := runTask(t, f, SubmitRequest{DataRef: "ref", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})

	assert.Equal(t, 1, status.Success)
	// No new product: the near-miss attached to the existing one.
	assert.Len(t, f.products.products, 1)
	require.Len(t, f.prices.recs, 1)
	assert.Equal(t, int64(1), f.prices.recs[0].ProductID)
}

func TestSubmitValidatesMappingSynchronously(t *testing.T) {
	f := newFixture(map[string]memFile{"ref": {name: "quotes.csv", data: []byte("name\nWidget\n")}})
	svc, runner := f.newService()
	defer runner.Close()

	_, err := svc.Submit(context.Background(), SubmitRequest{
		DataRef: "ref",
		Mapping: domain.Mapping{ValueGroups: []domain.ValueGroup{{Column: "p", Company: "Acme"}}},
	})
	assert.ErrorIs(t, err, domain.ErrMappingNameColumn)

	_, err = svc.Submit(context.Background(), SubmitRequest{
		DataRef: "ref",
		Mapping: domain.Mapping{NameColumn: "name"},
	})
	assert.ErrorIs(t, err, domain.ErrMappingValueGroups)

	_, err = svc.Submit(context.Background(), SubmitRequest{
		DataRef: "missing",
		Mapping: priceMapping(),
	})
	assert.ErrorIs(t, err, staging.ErrNotStaged)

	// No task was created for any rejected submission.
	assert.Empty(t, f.tasks.tasks)
}

func TestTaskFailsOnUnsupportedFile(t *testing.T) {
	f := newFixture(map[string]memFile{"ref": {name: "data.txt", data: []byte("whatever")}})

	status := runTask(t, f, SubmitRequest{DataRef: "ref", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})

	assert.Equal(t, domain.TaskFailed, status.Status)
	assert.Contains(t, status.ErrorMessage, "unsupported file format")
	assert.Empty(t, f.prices.recs)
}

func TestTaskFailsWhenMappedColumnsMissing(t *testing.T) {
	f := newFixture(map[string]memFile{"ref": {name: "quotes.csv", data: []byte("other,cols\na,b\n")}})

	status := runTask(t, f, SubmitRequest{DataRef: "ref", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})

	assert.Equal(t, domain.TaskFailed, status.Status)
	assert.Contains(t, status.ErrorMessage, "not present in file")
}

func TestProgressCheckpointsEvery100Rows(t *testing.T) {
	// Sequential names like "Widget 100" and "Widget 10" score above the
	// match threshold once the catalog fills up, so every row gets its own
	// month; each row then writes a new record no matter which product it
	// attaches to.
	var b strings.Builder
	b.WriteString("name,date,price\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "Widget %d,%04d-%02d-01,%d\n", i, 2020+i/12, i%12+1, i+1)
	}
	f := newFixture(map[string]memFile{"ref": {name: "big.csv", data: []byte(b.String())}})

	status := runTask(t, f, SubmitRequest{DataRef: "ref", Mapping: priceMapping(), ConflictMode: domain.ConflictSkip})

	assert.Equal(t, domain.TaskCompleted, status.Status)
	assert.Equal(t, 250, status.Success)

	// Rows 100 and 200 checkpoint, plus the unconditional final row.
	require.Len(t, f.tasks.progress, 3)
	assert.Equal(t, progressUpdate{100, 0, 0}, f.tasks.progress[0])
	assert.Equal(t, progressUpdate{200, 0, 0}, f.tasks.progress[1])
	assert.Equal(t, progressUpdate{250, 0, 0}, f.tasks.progress[2])
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(nil)
	svc, runner := f.newService()
	defer runner.Close()

	_, err := svc.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStatusCapsAndOrdersErrors(t *testing.T) {
	f := newFixture(nil)
	svc, runner := f.newService()
	defer runner.Close()

	id := uuid.New()
	require.NoError(t, f.tasks.Create(context.Background(), domain.ImportTask{ID: id, Status: domain.TaskCompleted}))
	// Recorded out of order and far beyond the cap.
	for row := 150; row >= 1; row-- {
		require.NoError(t, f.tasks.RecordError(context.Background(), domain.ImportError{
			TaskID: id, RowNo: row, ErrorMessage: "bad row",
		}))
	}

	status, err := svc.Status(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, status.Errors, 100)
	for i, e := range status.Errors {
		assert.Equal(t, i+1, e.RowNo)
	}
}

func TestManyTasksAllComplete(t *testing.T) {
	csv := "name,date,price\nWidget,2024-03-10,5\n"
	files := map[string]memFile{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("ref%d", i)] = memFile{name: "quotes.csv", data: []byte(csv)}
	}
	f := newFixture(files)
	svc, runner := f.newService()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		task, err := svc.Submit(context.Background(), SubmitRequest{
			DataRef:      fmt.Sprintf("ref%d", i),
			Mapping:      priceMapping(),
			ConflictMode: domain.ConflictSkip,
		})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	runner.Close()

	for _, id := range ids {
		status, err := svc.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Contains(t, []domain.TaskStatus{domain.TaskCompleted, domain.TaskFailed}, status.Status)
		assert.Equal(t, domain.TaskCompleted, status.Status)
	}
}

func TestPreviewReportsMatchesAndConflictsWithoutWriting(t *testing.T) {
	csv := "name,date,price\n" +
		"Widget A,2024-03-10,10\n" +
		",2024-03-10,5\n"
	f := newFixture(map[string]memFile{"ref": {name: "quotes.csv", data: []byte(csv)}})
	f.products.products = []domain.Product{{ID: 1, Name: "Widget A", NormalizedName: "widget a"}}
	f.products.nextID = 1
	f.prices.recs = []domain.PriceRec{{
		ID: 1, ProductID: 1, Company: "Acme", Month: "2024-03",
		Price: decimal.RequireFromString("10"),
	}}
	f.prices.nextID = 1

	svc, runner := f.newService()
	defer runner.Close()

	result, err := svc.Preview(context.Background(), PreviewRequest{
		DataRef:      "ref",
		Mapping:      priceMapping(),
		ConflictMode: domain.ConflictSkip,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalRows)
	require.Len(t, result.Rows, 2)

	first := result.Rows[0]
	assert.Equal(t, "widget a", first.NormalizedName)
	assert.Equal(t, "2024-03", first.Month)
	require.Len(t, first.Matches, 1)
	assert.Equal(t, 100, first.Matches[0].Score)
	require.Len(t, first.Values, 1)
	assert.True(t, first.Values[0].Conflict)

	assert.True(t, result.Rows[1].Excluded)

	// Dry run: nothing was written.
	assert.Len(t, f.prices.recs, 1)
	assert.Len(t, f.products.products, 1)
}
