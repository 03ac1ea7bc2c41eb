package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"search-sync/domain"
)

// widget is a minimal searchable record used across the usecase tests.
type widget struct {
	id       string
	name     string
	updated  time.Time
	archived bool
}

func (w *widget) SearchableID() string     { return w.id }
func (w *widget) LastModified() time.Time  { return w.updated }
func (w *widget) ShouldBeSearchable() bool { return !w.archived }
func (w *widget) ToDocument() domain.Document {
	return domain.Document{ID: w.id, UpdatedAt: w.updated, Fields: map[string]any{"name": w.name}}
}

func widgetType() domain.RecordType {
	return domain.RecordType{
		Name:  "widget",
		Index: "widgets",
		Mapping: domain.Mapping{Fields: []domain.FieldMapping{
			{Name: "name", Type: domain.FieldText, Searchable: true},
			{Name: "color", Type: domain.FieldKeyword, Filterable: true},
		}},
	}
}

func notFound(op string) error {
	return &domain.SearchEngineError{Op: op, Err: "no such index", Kind: domain.ErrorKindNotFound}
}

// mockBackend is an in-memory search backend with alias semantics.
type mockBackend struct {
	mu        sync.Mutex
	indexes   map[string]map[string]domain.Document
	aliases   map[string]string
	bulkSizes map[string][]int

	upsertErr   map[string]error
	bulkErr     error
	bulkItemErr map[string]domain.BulkItemError
	createErr   error
	assignErr   error
	searchErr   error
	lastQuery   domain.Query
	searchIndex string
	// resolveAfterAssign overrides ResolveAlias once AssignAlias ran.
	resolveAfterAssign *string
	assigned           bool
	// onAssign runs at the start of AssignAlias with the lock held.
	onAssign func()
	creates  int
}

func newMockBackend(indexes ...string) *mockBackend {
	b := &mockBackend{
		indexes:     map[string]map[string]domain.Document{},
		aliases:     map[string]string{},
		bulkSizes:   map[string][]int{},
		upsertErr:   map[string]error{},
		bulkItemErr: map[string]domain.BulkItemError{},
	}
	for _, i := range indexes {
		b.indexes[i] = map[string]domain.Document{}
	}
	return b
}

func (b *mockBackend) resolve(name string) string {
	if target, ok := b.aliases[name]; ok {
		return target
	}
	return name
}

func (b *mockBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.indexes[name]
	return ok, nil
}

func (b *mockBackend) CreateIndex(ctx context.Context, name string, m domain.Mapping) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return b.createErr
	}
	b.creates++
	if _, ok := b.indexes[name]; ok {
		return fmt.Errorf("index %s already exists", name)
	}
	b.indexes[name] = map[string]domain.Document{}
	return nil
}

func (b *mockBackend) DeleteIndex(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.indexes, name)
	for alias, target := range b.aliases {
		if target == name {
			delete(b.aliases, alias)
		}
	}
	return nil
}

func (b *mockBackend) AssignAlias(ctx context.Context, physical, logical string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onAssign != nil {
		b.onAssign()
	}
	if b.assignErr != nil {
		return b.assignErr
	}
	if _, ok := b.indexes[physical]; !ok {
		return notFound("AssignAlias")
	}
	// A concrete index of the logical name is retired in the same step.
	delete(b.indexes, logical)
	b.aliases[logical] = physical
	b.assigned = true
	return nil
}

func (b *mockBackend) ResolveAlias(ctx context.Context, logical string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveLocked(logical)
}

func (b *mockBackend) resolveLocked(logical string) (string, error) {
	if b.assigned && b.resolveAfterAssign != nil {
		return *b.resolveAfterAssign, nil
	}
	if target, ok := b.aliases[logical]; ok {
		return target, nil
	}
	if _, ok := b.indexes[logical]; ok {
		return logical, nil
	}
	return "", nil
}

func (b *mockBackend) BulkUpsert(ctx context.Context, index string, docs []domain.Document) (domain.BulkResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bulkSizes[index] = append(b.bulkSizes[index], len(docs))
	if b.bulkErr != nil {
		return domain.BulkResult{}, b.bulkErr
	}
	idx, ok := b.indexes[b.resolve(index)]
	if !ok {
		return domain.BulkResult{}, notFound("BulkUpsert")
	}
	res := domain.BulkResult{Calls: 1}
	for _, d := range docs {
		if e, bad := b.bulkItemErr[d.ID]; bad {
			res.Failed++
			res.Errors = append(res.Errors, e)
			continue
		}
		idx[d.ID] = d
		res.Succeeded++
	}
	return res, nil
}

func (b *mockBackend) Upsert(ctx context.Context, index string, doc domain.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.upsertErr[index]; err != nil {
		return err
	}
	idx, ok := b.indexes[b.resolve(index)]
	if !ok {
		return notFound("Upsert")
	}
	idx[doc.ID] = doc
	return nil
}

func (b *mockBackend) Delete(ctx context.Context, index, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.indexes[b.resolve(index)]
	if !ok {
		return false, notFound("Delete")
	}
	_, found := idx[id]
	delete(idx, id)
	return found, nil
}

func (b *mockBackend) Search(ctx context.Context, index string, q domain.Query) (domain.SearchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastQuery = q
	b.searchIndex = index
	if b.searchErr != nil {
		return domain.SearchResult{}, b.searchErr
	}
	idx := b.indexes[b.resolve(index)]
	res := domain.SearchResult{Total: int64(len(idx))}
	for id, d := range idx {
		res.Hits = append(res.Hits, domain.SearchHit{ID: id, Fields: d.Fields})
	}
	return res, nil
}

func (b *mockBackend) docs(index string) map[string]domain.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexes[b.resolve(index)]
}

func (b *mockBackend) has(index, id string) bool {
	_, ok := b.docs(index)[id]
	return ok
}

// mockEpochs keeps epochs in a map.
type mockEpochs struct {
	mu     sync.Mutex
	epochs map[string]domain.Epoch
	getErr error
	setErr error
}

func newMockEpochs() *mockEpochs {
	return &mockEpochs{epochs: map[string]domain.Epoch{}}
}

func (m *mockEpochs) Get(ctx context.Context, index string) (*domain.Epoch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.epochs[index]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *mockEpochs) Set(ctx context.Context, epoch domain.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	epoch.TargetIndex = ""
	m.epochs[epoch.LogicalIndex] = epoch
	return nil
}

func (m *mockEpochs) SetTarget(ctx context.Context, index, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.epochs[index]
	if !ok {
		return errors.New("no epoch")
	}
	e.TargetIndex = target
	m.epochs[index] = e
	return nil
}

func (m *mockEpochs) Delete(ctx context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.epochs, index)
	return nil
}

func (m *mockEpochs) DeleteIfStarted(ctx context.Context, index string, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.epochs[index]
	if !ok || !e.StartedAt.Equal(startedAt) {
		return false, nil
	}
	delete(m.epochs, index)
	return true, nil
}

// mockLocks is a token lock table.
type mockLocks struct {
	mu    sync.Mutex
	held  map[string]string
	seq   int
	calls int
}

func newMockLocks() *mockLocks {
	return &mockLocks{held: map[string]string{}}
}

func (m *mockLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.held[key]; ok {
		return "", false, nil
	}
	m.seq++
	token := fmt.Sprintf("token-%d", m.seq)
	m.held[key] = token
	return token, true, nil
}

func (m *mockLocks) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func (m *mockLocks) isHeld(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// mockQueue records submitted work.
type mockQueue struct {
	mu        sync.Mutex
	jobs      []domain.Job
	chains    []domain.Chain
	submitErr error
}

func (q *mockQueue) Enqueue(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *mockQueue) SubmitChain(ctx context.Context, chain domain.Chain) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		return q.submitErr
	}
	q.chains = append(q.chains, chain)
	return nil
}

// mockSource serves widgets ordered by (updated, id).
type mockSource struct {
	mu      sync.Mutex
	records map[string]*widget
	scanErr error
}

func newMockSource(ws ...*widget) *mockSource {
	s := &mockSource{records: map[string]*widget{}}
	for _, w := range ws {
		s.records[w.id] = w
	}
	return s
}

func (s *mockSource) put(w *widget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[w.id] = w
}

func (s *mockSource) Mapping(recordType string) (domain.Mapping, error) {
	return widgetType().Mapping, nil
}

func (s *mockSource) Find(ctx context.Context, recordType, id string) (domain.Searchable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return w, nil
}

func (s *mockSource) sorted(cutoff time.Time) []*widget {
	var out []*widget
	for _, w := range s.records {
		if w.updated.Before(cutoff) && !w.archived {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].updated.Equal(out[j].updated) {
			return out[i].updated.Before(out[j].updated)
		}
		return out[i].id < out[j].id
	})
	return out
}

func (s *mockSource) ScanPages(ctx context.Context, recordType string, cutoff time.Time, pageSize int, fn func(domain.PageRef) error) error {
	s.mu.Lock()
	if s.scanErr != nil {
		s.mu.Unlock()
		return s.scanErr
	}
	rows := s.sorted(cutoff)
	s.mu.Unlock()
	for i := 0; i < len(rows); i += pageSize {
		ref := domain.PageRef{Start: domain.Cursor{UpdatedAt: rows[i].updated, ID: rows[i].id}, Limit: pageSize}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *mockSource) FetchPage(ctx context.Context, recordType string, cutoff time.Time, page domain.PageRef) ([]domain.Searchable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Searchable
	for _, w := range s.sorted(cutoff) {
		if w.updated.Before(page.Start.UpdatedAt) || (w.updated.Equal(page.Start.UpdatedAt) && w.id < page.Start.ID) {
			continue
		}
		out = append(out, w)
		if len(out) == page.Limit {
			break
		}
	}
	return out, nil
}
