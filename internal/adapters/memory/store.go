package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

var errReadOnly = errors.New("write attempted in read-only transaction")

// Store keeps escrow state in process memory. Each project has its own writer
// lock; a writer works on a private copy that replaces the committed state
// only when the operation succeeds.
type Store struct {
	mu             sync.RWMutex
	projects       map[string]*projectSlot
	milestoneOwner map[string]string

	outbox  *outboxRepository
	dedup   *dedupRepository
	pending *pendingMilestoneRepository
}

type projectSlot struct {
	writer sync.Mutex
	mu     sync.RWMutex
	state  *projectState
}

type projectState struct {
	parties        domain.ProjectParties
	account        *domain.LedgerAccount
	milestones     map[string]domain.Milestone
	milestoneOrder []string
	releases       map[string]domain.ReleaseRequest
	releaseOrder   []string
	entries        []domain.LedgerEntry
	idempotency    map[string]ports.IdempotencyRecord
}

func NewStore() *Store {
	return &Store{
		projects:       map[string]*projectSlot{},
		milestoneOwner: map[string]string{},
		outbox:         &outboxRepository{},
		dedup:          &dedupRepository{rows: map[string]time.Time{}},
		pending:        &pendingMilestoneRepository{rows: map[string]domain.Milestone{}},
	}
}

func newProjectState(parties domain.ProjectParties) *projectState {
	return &projectState{
		parties:     parties,
		milestones:  map[string]domain.Milestone{},
		releases:    map[string]domain.ReleaseRequest{},
		idempotency: map[string]ports.IdempotencyRecord{},
	}
}

func (p *projectState) clone() *projectState {
	out := &projectState{
		parties:        p.parties,
		milestones:     make(map[string]domain.Milestone, len(p.milestones)),
		milestoneOrder: append([]string(nil), p.milestoneOrder...),
		releases:       make(map[string]domain.ReleaseRequest, len(p.releases)),
		releaseOrder:   append([]string(nil), p.releaseOrder...),
		entries:        append([]domain.LedgerEntry(nil), p.entries...),
		idempotency:    make(map[string]ports.IdempotencyRecord, len(p.idempotency)),
	}
	if p.account != nil {
		account := *p.account
		out.account = &account
	}
	for k, v := range p.milestones {
		out.milestones[k] = v
	}
	for k, v := range p.releases {
		out.releases[k] = v
	}
	for k, v := range p.idempotency {
		out.idempotency[k] = v
	}
	return out
}

func (s *Store) slot(projectID string) (*projectSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
	}
	return slot, nil
}

func (s *Store) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, tx ports.EscrowTx) error) error {
	slot, err := s.slot(projectID)
	if err != nil {
		return err
	}
	slot.writer.Lock()
	defer slot.writer.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	slot.mu.RLock()
	work := slot.state.clone()
	slot.mu.RUnlock()

	tx := &memoryTx{store: s, projectID: projectID, state: work}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(slot, tx)
}

func (s *Store) commit(slot *projectSlot, tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.newMilestones {
		if owner, ok := s.milestoneOwner[id]; ok && owner != tx.projectID {
			return fmt.Errorf("%w: milestone %s belongs to another project", domain.ErrConflict, id)
		}
	}
	for _, id := range tx.newMilestones {
		s.milestoneOwner[id] = tx.projectID
	}
	s.outbox.append(tx.outbox)

	slot.mu.Lock()
	slot.state = tx.state
	slot.mu.Unlock()
	return nil
}

func (s *Store) ReadProject(ctx context.Context, projectID string, fn func(ctx context.Context, tx ports.EscrowTx) error) error {
	slot, err := s.slot(projectID)
	if err != nil {
		return err
	}
	slot.mu.RLock()
	view := slot.state.clone()
	slot.mu.RUnlock()
	return fn(ctx, &memoryTx{store: s, projectID: projectID, state: view, readOnly: true})
}

func (s *Store) UpsertProject(ctx context.Context, parties domain.ProjectParties) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	slot, ok := s.projects[parties.ProjectID]
	if !ok {
		s.projects[parties.ProjectID] = &projectSlot{state: newProjectState(parties)}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slot.writer.Lock()
	defer slot.writer.Unlock()
	slot.mu.Lock()
	next := slot.state.clone()
	next.parties = parties
	slot.state = next
	slot.mu.Unlock()
	return nil
}

func (s *Store) Outbox() ports.OutboxRepository { return s.outbox }

func (s *Store) EventDedup() ports.EventDedupRepository { return s.dedup }

func (s *Store) PendingMilestones() ports.PendingMilestoneRepository { return s.pending }

func (s *Store) Ping(context.Context) error { return nil }

type memoryTx struct {
	store         *Store
	projectID     string
	state         *projectState
	readOnly      bool
	newMilestones []string
	outbox        []ports.OutboxRecord
}

func (t *memoryTx) Projects() ports.ProjectRepository { return txProjects{t} }
func (t *memoryTx) Accounts() ports.LedgerAccountRepository { return txAccounts{t} }
func (t *memoryTx) Milestones() ports.MilestoneRepository { return txMilestones{t} }
func (t *memoryTx) Releases() ports.ReleaseRequestRepository { return txReleases{t} }
func (t *memoryTx) Entries() ports.LedgerEntryRepository { return txEntries{t} }
func (t *memoryTx) Idempotency() ports.IdempotencyRepository { return txIdempotency{t} }
func (t *memoryTx) Outbox() ports.OutboxRepository { return txOutbox{t} }

func (t *memoryTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

type txProjects struct{ tx *memoryTx }

func (r txProjects) Get(_ context.Context, projectID string) (domain.ProjectParties, error) {
	if projectID != r.tx.projectID {
		return domain.ProjectParties{}, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
	}
	return r.tx.state.parties, nil
}

type txAccounts struct{ tx *memoryTx }

func (r txAccounts) Get(_ context.Context, projectID string) (domain.LedgerAccount, error) {
	if projectID != r.tx.projectID || r.tx.state.account == nil {
		return domain.LedgerAccount{}, fmt.Errorf("%w: escrow for project %s", domain.ErrNotFound, projectID)
	}
	return *r.tx.state.account, nil
}

func (r txAccounts) Save(_ context.Context, account domain.LedgerAccount) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if account.ProjectID != r.tx.projectID {
		return fmt.Errorf("%w: account of project %s saved in project %s", domain.ErrInvalidInput, account.ProjectID, r.tx.projectID)
	}
	r.tx.state.account = &account
	return nil
}

type txMilestones struct{ tx *memoryTx }

func (r txMilestones) Get(_ context.Context, milestoneID string) (domain.Milestone, error) {
	m, ok := r.tx.state.milestones[milestoneID]
	if !ok {
		return domain.Milestone{}, fmt.Errorf("%w: milestone %s", domain.ErrNotFound, milestoneID)
	}
	return m, nil
}

func (r txMilestones) ListByProject(_ context.Context, projectID string) ([]domain.Milestone, error) {
	if projectID != r.tx.projectID {
		return nil, nil
	}
	out := make([]domain.Milestone, 0, len(r.tx.state.milestoneOrder))
	for _, id := range r.tx.state.milestoneOrder {
		out = append(out, r.tx.state.milestones[id])
	}
	return out, nil
}

func (r txMilestones) Create(_ context.Context, milestone domain.Milestone) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if _, ok := r.tx.state.milestones[milestone.MilestoneID]; ok {
		return fmt.Errorf("%w: milestone %s", domain.ErrConflict, milestone.MilestoneID)
	}
	r.tx.store.mu.RLock()
	owner, taken := r.tx.store.milestoneOwner[milestone.MilestoneID]
	r.tx.store.mu.RUnlock()
	if taken && owner != r.tx.projectID {
		return fmt.Errorf("%w: milestone %s", domain.ErrConflict, milestone.MilestoneID)
	}
	r.tx.state.milestones[milestone.MilestoneID] = milestone
	r.tx.state.milestoneOrder = append(r.tx.state.milestoneOrder, milestone.MilestoneID)
	r.tx.newMilestones = append(r.tx.newMilestones, milestone.MilestoneID)
	return nil
}

func (r txMilestones) Update(_ context.Context, milestone domain.Milestone) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if _, ok := r.tx.state.milestones[milestone.MilestoneID]; !ok {
		return fmt.Errorf("%w: milestone %s", domain.ErrNotFound, milestone.MilestoneID)
	}
	r.tx.state.milestones[milestone.MilestoneID] = milestone
	return nil
}

type txReleases struct{ tx *memoryTx }

func (r txReleases) Get(_ context.Context, releaseID string) (domain.ReleaseRequest, error) {
	rel, ok := r.tx.state.releases[releaseID]
	if !ok {
		return domain.ReleaseRequest{}, fmt.Errorf("%w: release %s", domain.ErrNotFound, releaseID)
	}
	return rel, nil
}

func (r txReleases) ListByMilestone(_ context.Context, milestoneID string) ([]domain.ReleaseRequest, error) {
	out := make([]domain.ReleaseRequest, 0)
	for _, id := range r.tx.state.releaseOrder {
		if rel := r.tx.state.releases[id]; rel.MilestoneID == milestoneID {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (r txReleases) ListOpenByProject(_ context.Context, projectID string) ([]domain.ReleaseRequest, error) {
	out := make([]domain.ReleaseRequest, 0)
	if projectID != r.tx.projectID {
		return out, nil
	}
	for _, id := range r.tx.state.releaseOrder {
		if rel := r.tx.state.releases[id]; rel.IsOpen() {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (r txReleases) Create(_ context.Context, release domain.ReleaseRequest) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if _, ok := r.tx.state.releases[release.ReleaseID]; ok {
		return fmt.Errorf("%w: release %s", domain.ErrConflict, release.ReleaseID)
	}
	if release.IsOpen() {
		for _, existing := range r.tx.state.releases {
			if existing.MilestoneID == release.MilestoneID && existing.IsOpen() {
				return fmt.Errorf("%w: milestone %s", domain.ErrDuplicateRequest, release.MilestoneID)
			}
		}
	}
	r.tx.state.releases[release.ReleaseID] = release
	r.tx.state.releaseOrder = append(r.tx.state.releaseOrder, release.ReleaseID)
	return nil
}

func (r txReleases) Update(_ context.Context, release domain.ReleaseRequest) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if _, ok := r.tx.state.releases[release.ReleaseID]; !ok {
		return fmt.Errorf("%w: release %s", domain.ErrNotFound, release.ReleaseID)
	}
	r.tx.state.releases[release.ReleaseID] = release
	return nil
}

type txEntries struct{ tx *memoryTx }

func (r txEntries) Append(_ context.Context, entry domain.LedgerEntry) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	r.tx.state.entries = append(r.tx.state.entries, entry)
	return nil
}

func (r txEntries) ListByProject(_ context.Context, projectID string) ([]domain.LedgerEntry, error) {
	if projectID != r.tx.projectID {
		return []domain.LedgerEntry{}, nil
	}
	return append([]domain.LedgerEntry{}, r.tx.state.entries...), nil
}

type txIdempotency struct{ tx *memoryTx }

func (r txIdempotency) Get(_ context.Context, projectID, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	if projectID != r.tx.projectID {
		return nil, nil
	}
	rec, ok := r.tx.state.idempotency[key]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, nil
	}
	return &rec, nil
}

func (r txIdempotency) Put(_ context.Context, record ports.IdempotencyRecord) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	r.tx.state.idempotency[record.Key] = record
	return nil
}

type txOutbox struct{ tx *memoryTx }

func (r txOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	id := event.EventID
	if id == uuid.Nil {
		id = uuid.New()
	}
	r.tx.outbox = append(r.tx.outbox, ports.OutboxRecord{
		OutboxID:     id,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		FirstSeenAt:  event.OccurredAt,
	})
	return nil
}

func (r txOutbox) FetchUnpublished(context.Context, int) ([]ports.OutboxRecord, error) {
	return nil, errReadOnly
}

func (r txOutbox) MarkPublished(context.Context, uuid.UUID, time.Time) error { return errReadOnly }

func (r txOutbox) MarkFailed(context.Context, uuid.UUID, string, time.Time) error { return errReadOnly }

type outboxRepository struct {
	mu   sync.Mutex
	rows []ports.OutboxRecord
}

func (r *outboxRepository) append(rows []ports.OutboxRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
}

func (r *outboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.append([]ports.OutboxRecord{{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		FirstSeenAt:  event.OccurredAt,
	}})
	return nil
}

func (r *outboxRepository) FetchUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxRecord, 0)
	for _, row := range r.rows {
		if row.PublishedAt != nil {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].OutboxID == outboxID {
			t := at
			r.rows[i].PublishedAt = &t
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *outboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].OutboxID == outboxID {
			msg, t := errMsg, at
			r.rows[i].RetryCount++
			r.rows[i].LastError = &msg
			r.rows[i].LastErrorAt = &t
			return nil
		}
	}
	return domain.ErrNotFound
}

type dedupRepository struct {
	mu   sync.Mutex
	rows map[string]time.Time
}

func (r *dedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiresAt, ok := r.rows[eventID]
	return ok && expiresAt.After(now), nil
}

func (r *dedupRepository) MarkProcessed(_ context.Context, eventID, _ string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[eventID] = expiresAt
	return nil
}

type pendingMilestoneRepository struct {
	mu    sync.Mutex
	rows  map[string]domain.Milestone
	order []string
}

func (r *pendingMilestoneRepository) Park(_ context.Context, milestone domain.Milestone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[milestone.MilestoneID]; !ok {
		r.order = append(r.order, milestone.MilestoneID)
	}
	r.rows[milestone.MilestoneID] = milestone
	return nil
}

func (r *pendingMilestoneRepository) ListByProject(_ context.Context, projectID string) ([]domain.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Milestone, 0)
	for _, id := range r.order {
		if m := r.rows[id]; m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *pendingMilestoneRepository) Delete(_ context.Context, milestoneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[milestoneID]; !ok {
		return nil
	}
	delete(r.rows, milestoneID)
	for i, id := range r.order {
		if id == milestoneID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
