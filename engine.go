package rowguard

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oarkflow/rowguard/logger"
)

// ============================================================================
// STORAGE INTERFACE
// ============================================================================

// RowStore is the storage collaborator the engine pushes compiled filters
// into. SQL implementations splice filter.Where into the query and bind
// filter.Args; memory implementations call filter.Matches per row. The store
// never makes permission decisions of its own.
type RowStore interface {
	Select(ctx context.Context, table string, columns []string, filter *RowFilter) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table string, changes Row, filter *RowFilter) (int64, error)
	Delete(ctx context.Context, table string, filter *RowFilter) (int64, error)
}

// ============================================================================
// PERMISSION RESOLUTION PIPELINE
// ============================================================================

// Engine orchestrates the two enforcement stages: the capability gate runs
// first and on deny the store is never touched; on allow the query proceeds
// with the row filter and field masks applied. The compiled policy snapshot
// sits behind an atomic pointer, so a reload swaps the whole set at once and
// every in-flight request sees either the old set or the new one, never a
// mix.
type Engine struct {
	store       RowStore
	snapshot    atomic.Pointer[PolicySet]
	generation  atomic.Uint64
	cache       atomic.Pointer[decisionCache]
	auditStore  AuditStore
	auditCh     chan AuditEntry
	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
	idColumn    string
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithAuditStore installs a destination for gate decisions. Entries are
// written asynchronously off a buffered channel; a full buffer drops the
// entry rather than stalling the request.
func WithAuditStore(s AuditStore) EngineOption {
	return func(e *Engine) error {
		e.auditStore = s
		return nil
	}
}

// WithDecisionCache sizes the ristretto gate-decision cache. Zero values
// fall back to defaults.
func WithDecisionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		c, err := newDecisionCache(numCounters, maxCost, bufferItems, ttl)
		if err != nil {
			return err
		}
		e.cache.Store(c)
		return nil
	}
}

// WithIDColumn overrides the primary key column used by Get, Update and
// Delete. Defaults to "id".
func WithIDColumn(name string) EngineOption {
	return func(e *Engine) error {
		if name == "" {
			return fmt.Errorf("rowguard: empty id column")
		}
		e.idColumn = name
		return nil
	}
}

// NewEngine builds an engine over the given store. No schema is loaded yet;
// every call fails until Load succeeds once.
func NewEngine(store RowStore, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("rowguard: row store is required")
	}
	e := &Engine{
		store:    store,
		logger:   logger.NewNullLogger(),
		idColumn: "id",
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.cache.Load() == nil {
		c, err := newDecisionCache(0, 0, 0, 0)
		if err != nil {
			return nil, err
		}
		e.cache.Store(c)
	}
	if e.auditStore != nil {
		e.auditCh = make(chan AuditEntry, 1024)
		go func() {
			bg := context.Background()
			for entry := range e.auditCh {
				if err := e.auditStore.LogDecision(bg, &entry); err != nil {
					e.logger.Error("audit write failed", "error", err.Error())
				}
			}
		}()
	}
	return e, nil
}

// Close stops the audit worker and the decision cache. The engine must not
// be used afterwards.
func (e *Engine) Close() {
	if e.auditCh != nil {
		close(e.auditCh)
	}
	if c := e.cache.Load(); c != nil {
		c.close()
	}
}

// ============================================================================
// SCHEMA LOAD / RELOAD
// ============================================================================

// Load compiles the configuration and atomically installs the result. On any
// parse, validation or compile error nothing changes: the previous snapshot,
// if any, stays fully in effect.
func (e *Engine) Load(ctx context.Context, cfg *Config) error {
	set, err := CompileSchema(cfg.Tables, cfg.Defaults, cfg.Overrides)
	if err != nil {
		return err
	}
	set.generation = e.generation.Add(1)
	e.snapshot.Store(set)
	e.cache.Load().clear()
	e.logger.Info("schema loaded", "tables", len(set.tables), "generation", int(set.generation))
	return nil
}

// LoadTables is Load for bare table lists without workspace defaults.
func (e *Engine) LoadTables(ctx context.Context, tables ...*TableSchema) error {
	return e.Load(ctx, &Config{Tables: tables})
}

// Snapshot returns the current compiled policy set, or nil before the first
// successful Load.
func (e *Engine) Snapshot() *PolicySet {
	return e.snapshot.Load()
}

// CompiledPolicies lists the installed row policies of the current snapshot.
func (e *Engine) CompiledPolicies() []*CompiledPolicy {
	set := e.snapshot.Load()
	if set == nil {
		return nil
	}
	return set.Policies()
}

func (e *Engine) requireSnapshot() (*PolicySet, error) {
	set := e.snapshot.Load()
	if set == nil {
		return nil, fmt.Errorf("rowguard: no schema loaded")
	}
	return set, nil
}

// ============================================================================
// AUTHORIZATION
// ============================================================================

// Authorize runs the capability gate for one request. Decisions are cached
// per generation/principal/roles/table/action for the configured TTL.
func (e *Engine) Authorize(ctx context.Context, sess Session, table string, action Action) (*Decision, error) {
	set, err := e.requireSnapshot()
	if err != nil {
		return nil, err
	}
	key := e.cacheKey(set, sess, table, action)
	cache := e.cache.Load()
	if dec, ok := cache.get(key); ok {
		return dec, nil
	}
	dec := set.Authorize(sess, table, action)
	cache.set(key, dec)
	e.auditLog(sess, table, action, dec)
	return dec, nil
}

// Explain runs the gate with a full trace. Never cached and never audited;
// it exists for debugging and admin tools.
func (e *Engine) Explain(ctx context.Context, sess Session, table string, action Action) (*Decision, error) {
	set, err := e.requireSnapshot()
	if err != nil {
		return nil, err
	}
	return set.Explain(sess, table, action), nil
}

// cacheKey length-prefixes every segment so two distinct principals can
// never build the same key, whatever bytes their ids or roles contain.
func (e *Engine) cacheKey(set *PolicySet, sess Session, table string, action Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", set.generation)
	if sess == nil {
		b.WriteString("|-")
	} else {
		writeKeySegment(&b, sess.UserID())
		roles := sess.Roles()
		fmt.Fprintf(&b, "|%d", len(roles))
		for _, r := range roles {
			writeKeySegment(&b, r)
		}
	}
	writeKeySegment(&b, table)
	writeKeySegment(&b, string(action))
	return b.String()
}

func writeKeySegment(b *strings.Builder, s string) {
	fmt.Fprintf(b, "|%d:%s", len(s), s)
}

func (e *Engine) auditLog(sess Session, table string, action Action, dec *Decision) {
	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		Timestamp: dec.Timestamp,
		Table:     table,
		Action:    action,
		Decision:  dec,
	}
	if sess != nil {
		entry.UserID = sess.UserID()
	}
	if e.traceIDFunc != nil {
		entry.TraceID = e.traceIDFunc()
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Debug("audit buffer full, entry dropped", "table", table)
	}
}

// denyOutcome maps a gate denial to its caller-facing error, honoring the
// table's masking choice.
func denyOutcome(set *PolicySet, table string, action Action, dec *Decision) error {
	if schema := set.Schema(table); schema != nil && schema.MaskDenied {
		return ErrNotFound
	}
	return &DeniedError{Table: table, Action: action, Reason: dec.Reason}
}

// ============================================================================
// DATA OPERATIONS
// ============================================================================

// Query returns the rows of table visible to the session. Rows excluded by
// the compiled predicate are silently absent; columns behind an unsatisfied
// field-level read rule are missing from each row, not null.
func (e *Engine) Query(ctx context.Context, sess Session, table string) ([]Row, error) {
	set, err := e.requireSnapshot()
	if err != nil {
		return nil, err
	}
	dec, err := e.Authorize(ctx, sess, table, ActionRead)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, denyOutcome(set, table, ActionRead, dec)
	}
	cols := set.ReadableColumns(table, sess)
	rows, err := e.store.Select(ctx, table, cols, set.RowFilter(table, ActionRead, sess))
	if err != nil {
		return nil, err
	}
	return MaskRows(rows, cols), nil
}

// Get returns a single row by id, or ErrNotFound when the row does not
// exist or the predicate filters it out. The two cases are deliberately
// indistinguishable.
func (e *Engine) Get(ctx context.Context, sess Session, table string, id any) (Row, error) {
	set, err := e.requireSnapshot()
	if err != nil {
		return nil, err
	}
	dec, err := e.Authorize(ctx, sess, table, ActionRead)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, denyOutcome(set, table, ActionRead, dec)
	}
	cols := set.ReadableColumns(table, sess)
	filter := e.withTarget(set.RowFilter(table, ActionRead, sess), id)
	rows, err := e.store.Select(ctx, table, cols, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return MaskRows(rows[:1], cols)[0], nil
}

// Insert writes one row. Field-level write rules reject the whole payload;
// create-time row conditions are checked against the candidate row before
// the store sees it.
func (e *Engine) Insert(ctx context.Context, sess Session, table string, row Row) error {
	set, err := e.requireSnapshot()
	if err != nil {
		return err
	}
	dec, err := e.Authorize(ctx, sess, table, ActionCreate)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return denyOutcome(set, table, ActionCreate, dec)
	}
	prepared, err := e.prepareInsert(set, sess, table, row)
	if err != nil {
		return err
	}
	return e.store.Insert(ctx, table, prepared)
}

// InsertMany writes a batch. The whole batch is validated up front and
// rejected in full on the first offending record: either every row is
// handed to the store or none is.
func (e *Engine) InsertMany(ctx context.Context, sess Session, table string, rows []Row) error {
	set, err := e.requireSnapshot()
	if err != nil {
		return err
	}
	dec, err := e.Authorize(ctx, sess, table, ActionCreate)
	if err != nil {
		return err
	}
	if !dec.Allowed {
		return denyOutcome(set, table, ActionCreate, dec)
	}
	prepared := make([]Row, 0, len(rows))
	for _, row := range rows {
		p, err := e.prepareInsert(set, sess, table, row)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}
	for _, p := range prepared {
		if err := e.store.Insert(ctx, table, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) prepareInsert(set *PolicySet, sess Session, table string, row Row) (Row, error) {
	schema := set.Schema(table)
	if err := checkColumns(schema, row); err != nil {
		return nil, err
	}
	if err := set.CheckWrite(table, sess, row); err != nil {
		return nil, err
	}
	prepared := make(Row, len(row))
	for k, v := range row {
		prepared[k] = v
	}
	for _, f := range schema.Fields {
		if _, present := prepared[f.Name]; present {
			continue
		}
		if f.Default != nil {
			prepared[f.Name] = f.Default
		} else if f.Required && f.Name != e.idColumn {
			return nil, fmt.Errorf("rowguard: table %q: required field %q missing", table, f.Name)
		}
	}
	filter := set.RowFilter(table, ActionCreate, sess)
	ok, err := filter.Matches(prepared)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &DeniedError{Table: table, Action: ActionCreate, Reason: "row condition not satisfied"}
	}
	return prepared, nil
}

// Update applies changes to the row with the given id. A row the predicate
// excludes yields zero affected rows, not an error; a forbidden column in
// changes rejects the whole write with FieldWriteError.
func (e *Engine) Update(ctx context.Context, sess Session, table string, id any, changes Row) (int64, error) {
	set, err := e.requireSnapshot()
	if err != nil {
		return 0, err
	}
	dec, err := e.Authorize(ctx, sess, table, ActionUpdate)
	if err != nil {
		return 0, err
	}
	if !dec.Allowed {
		return 0, denyOutcome(set, table, ActionUpdate, dec)
	}
	if err := checkColumns(set.Schema(table), changes); err != nil {
		return 0, err
	}
	if err := set.CheckWrite(table, sess, changes); err != nil {
		return 0, err
	}
	filter := e.withTarget(set.RowFilter(table, ActionUpdate, sess), id)
	return e.store.Update(ctx, table, changes, filter)
}

// Delete removes the row with the given id, honoring the delete predicate.
// Filtered rows surface as zero affected, never as an error.
func (e *Engine) Delete(ctx context.Context, sess Session, table string, id any) (int64, error) {
	set, err := e.requireSnapshot()
	if err != nil {
		return 0, err
	}
	dec, err := e.Authorize(ctx, sess, table, ActionDelete)
	if err != nil {
		return 0, err
	}
	if !dec.Allowed {
		return 0, denyOutcome(set, table, ActionDelete, dec)
	}
	filter := e.withTarget(set.RowFilter(table, ActionDelete, sess), id)
	return e.store.Delete(ctx, table, filter)
}

// withTarget narrows a filter to one primary key value through an extra
// named parameter, keeping the predicate fully parameterized.
func (e *Engine) withTarget(filter *RowFilter, id any) *RowFilter {
	target := &Comparison{Left: FieldRef{Name: e.idColumn}, Right: param{name: "rg_target_id"}}
	var combined Expr = target
	args := map[string]any{"rg_target_id": id}
	if !filter.Unrestricted() {
		combined = &BooleanCombination{Op: OpAnd, Left: filter.expr, Right: target}
		for k, v := range filter.Args {
			args[k] = v
		}
	}
	sql, _ := lowerExpr(combined)
	return &RowFilter{Where: sql, Args: args, expr: combined}
}

func checkColumns(schema *TableSchema, row Row) error {
	for name := range row {
		if !schema.HasField(name) {
			return &UnknownFieldError{Table: schema.Name, Field: name}
		}
	}
	return nil
}

// Simulate compiles a candidate table schema in isolation and evaluates one
// probe row against it without installing anything. Useful for schema
// editors that want a dry run.
func (e *Engine) Simulate(schema *TableSchema, sess Session, action Action, row Row) (bool, error) {
	set, err := CompileSchema([]*TableSchema{schema}, nil, nil)
	if err != nil {
		return false, err
	}
	dec := set.Authorize(sess, schema.Name, action)
	if !dec.Allowed {
		return false, nil
	}
	return set.RowFilter(schema.Name, action, sess).Matches(row)
}
