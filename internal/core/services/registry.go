package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/tracing"

	"go.uber.org/zap"
)

// RoomConfig holds the per-room policy knobs.
type RoomConfig struct {
	DriftThreshold      time.Duration
	GuardWindow         time.Duration
	SeekTolerance       time.Duration
	RequestCooldown     time.Duration
	RequestMaxAge       time.Duration
	MaxRewind           time.Duration
	QuickMessageMaxLen  int
	PresenceStaleAfter  time.Duration
	ClosedRoomRetention time.Duration
}

// DefaultRoomConfig returns the policy used when no configuration is given.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		DriftThreshold:      1500 * time.Millisecond,
		GuardWindow:         300 * time.Millisecond,
		SeekTolerance:       2 * time.Second,
		RequestCooldown:     10 * time.Second,
		RequestMaxAge:       10 * time.Minute,
		MaxRewind:           time.Hour,
		QuickMessageMaxLen:  200,
		PresenceStaleAfter:  15 * time.Minute,
		ClosedRoomRetention: time.Hour,
	}
}

// Registry owns every room held by this process. Each room is mutated by
// one writer at a time through mutate; readers use the room's last
// committed snapshot and never take the room lock.
type Registry struct {
	cfg       RoomConfig
	publisher ports.EventPublisher
	persister *Persister
	ownership ports.RoomOwnership
	metrics   ports.Metrics
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomSession
}

type RegistryOption func(*Registry)

// WithClock replaces the wall clock used for timestamps and deadlines.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithMetrics records mutations and room gauges on m.
func WithMetrics(m ports.Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPersister hands every committed snapshot to p.
func WithPersister(p *Persister) RegistryOption {
	return func(r *Registry) { r.persister = p }
}

// WithOwnership makes the registry hold only rooms claimed through o.
// Without it the process owns every room it sees.
func WithOwnership(o ports.RoomOwnership) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.ownership = o
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RoomConfig, publisher ports.EventPublisher, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	r := &Registry{
		cfg:       cfg,
		publisher: publisher,
		ownership: soleOwner{},
		metrics:   ports.NopMetrics{},
		logger:    logger.Sugar().Named("registry"),
		now:       time.Now,
		rooms:     make(map[domain.RoomID]*roomSession),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...domain.Event) {}

// soleOwner is the ownership of a single instance deployment.
type soleOwner struct{}

func (soleOwner) Claim(context.Context, domain.RoomID) (bool, error) { return true, nil }
func (soleOwner) Release(context.Context, domain.RoomID) error       { return nil }

type roomSession struct {
	mu       sync.Mutex
	room     domain.Room
	guests   map[domain.GuestID]*domain.Guest
	order    []domain.GuestID
	playback domain.PlaybackState
	requests map[domain.RequestID]*domain.Request
	// resolved keeps resolution times so duplicate approvals stay no-ops
	// until garbage collection.
	resolved map[domain.RequestID]time.Time
	version  uint64

	snap atomic.Pointer[domain.RoomSnapshot]
}

func newRoomSession(room domain.Room) *roomSession {
	return &roomSession{
		room:     room,
		guests:   make(map[domain.GuestID]*domain.Guest),
		requests: make(map[domain.RequestID]*domain.Request),
		resolved: make(map[domain.RequestID]time.Time),
	}
}

func (s *roomSession) addGuest(g *domain.Guest) {
	s.guests[g.ID] = g
	s.order = append(s.order, g.ID)
}

// commit must be called with mu held.
func (s *roomSession) commit() *domain.RoomSnapshot {
	s.version++
	snap := &domain.RoomSnapshot{
		Version:  s.version,
		Room:     s.room,
		Guests:   make([]domain.Guest, 0, len(s.order)),
		Playback: s.playback,
		Requests: make([]domain.Request, 0, len(s.requests)),
	}
	for _, id := range s.order {
		snap.Guests = append(snap.Guests, *s.guests[id])
	}
	for _, req := range s.requests {
		snap.Requests = append(snap.Requests, *req)
	}
	sort.Slice(snap.Requests, func(i, j int) bool {
		return snap.Requests[i].CreatedAt.Before(snap.Requests[j].CreatedAt)
	})
	s.snap.Store(snap)
	return snap
}

func (r *Registry) session(id domain.RoomID) (*roomSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return s, nil
}

func (r *Registry) sessions() []*roomSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*roomSession, 0, len(r.rooms))
	for _, s := range r.rooms {
		out = append(out, s)
	}
	return out
}

// Snapshot returns the last committed state of a room.
func (r *Registry) Snapshot(roomID domain.RoomID) (*domain.RoomSnapshot, error) {
	s, err := r.session(roomID)
	if err != nil {
		return nil, err
	}
	return s.snap.Load(), nil
}

// insert registers a freshly built room and commits its first snapshot.
func (r *Registry) insert(s *roomSession) *domain.RoomSnapshot {
	s.mu.Lock()
	snap := s.commit()
	s.mu.Unlock()

	r.mu.Lock()
	r.rooms[s.room.ID] = s
	r.mu.Unlock()

	r.schedulePersist(snap)
	return snap
}

func (r *Registry) remove(id domain.RoomID) {
	r.evict(id)
	if r.persister != nil {
		r.persister.Forget(id)
	}
	if err := r.ownership.Release(context.Background(), id); err != nil {
		r.logger.Warnw("failed to release room", "room_id", id, "error", err)
	}
}

// evict drops a room from memory and leaves its stored snapshot alone.
func (r *Registry) evict(id domain.RoomID) {
	r.mu.Lock()
	delete(r.rooms, id)
	r.mu.Unlock()
}

// claim takes ownership of a room this registry is about to hold.
func (r *Registry) claim(ctx context.Context, id domain.RoomID) error {
	ok, err := r.ownership.Claim(ctx, id)
	if err != nil {
		return domain.ErrOwnershipUnavailable.WithCause(err)
	}
	if !ok {
		return domain.ErrRoomOwnedElsewhere
	}
	return nil
}

func (r *Registry) schedulePersist(snap *domain.RoomSnapshot) {
	if r.persister != nil {
		r.persister.Schedule(snap)
	}
}

// mutate runs fn as the room's single writer. If fn succeeds and changed
// anything, a new snapshot is committed and the events it emitted are
// published after the lock is released.
func (r *Registry) mutate(ctx context.Context, roomID domain.RoomID, op string, fn func(tx *roomTx) error) error {
	s, err := r.session(roomID)
	if err != nil {
		return err
	}

	ctx, span := tracing.TraceRoomOperation(ctx, op, string(roomID))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	tx := &roomTx{s: s, cfg: &r.cfg, now: r.now().UTC()}
	err = fn(tx)
	var snap *domain.RoomSnapshot
	if err == nil && tx.dirty {
		snap = s.commit()
		if tx.rosterChanged {
			tx.event(domain.EventRosterUpdate, domain.AudienceRoom,
				domain.RosterPayload{Guests: snap.Roster(tx.now, r.cfg.PresenceStaleAfter)})
		}
	}
	s.mu.Unlock()

	r.metrics.MutationObserved(op, time.Since(start), err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if snap != nil {
		r.publisher.Publish(ctx, tx.events...)
		r.schedulePersist(snap)
	}
	return nil
}

// Restore loads the active rooms of repo that this instance can claim and
// does not hold yet. Guests come back offline; presence is rebuilt as
// clients reconnect. It returns how many rooms were loaded.
func (r *Registry) Restore(ctx context.Context, repo ports.RoomRepository) (int, error) {
	snaps, err := repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now().UTC()
	restored := 0
	for _, snap := range snaps {
		if _, err := r.session(snap.Room.ID); err == nil {
			continue
		}
		if err := r.claim(ctx, snap.Room.ID); err != nil {
			if !errors.Is(err, domain.ErrRoomOwnedElsewhere) {
				r.logger.Warnw("failed to claim room", "room_id", snap.Room.ID, "error", err)
			}
			continue
		}

		s := newRoomSession(snap.Room)
		s.version = snap.Version
		s.playback = snap.Playback
		for i := range snap.Guests {
			g := snap.Guests[i]
			if g.Online {
				g.Online = false
				g.OfflineSince = &now
			}
			s.addGuest(&g)
		}
		for i := range snap.Requests {
			req := snap.Requests[i]
			s.requests[req.ID] = &req
		}
		r.insert(s)
		restored++
	}
	if restored > 0 {
		r.logger.Infow("restored rooms", "count", restored)
	}
	return restored, nil
}

// VerifyOwnership refreshes the claim of every held room and evicts the
// rooms whose claim was lost, so that only their new owner writes them.
func (r *Registry) VerifyOwnership(ctx context.Context) {
	for _, s := range r.sessions() {
		id := s.snap.Load().Room.ID
		ok, err := r.ownership.Claim(ctx, id)
		if err != nil {
			r.logger.Warnw("failed to refresh room claim", "room_id", id, "error", err)
			continue
		}
		if !ok {
			r.evict(id)
			r.logger.Warnw("room claimed by another instance, evicted", "room_id", id)
		}
	}
}

// ReleaseAll gives up every held room and returns their ids. It is called
// on shutdown once pending snapshots are written, so another instance can
// adopt them.
func (r *Registry) ReleaseAll(ctx context.Context) []domain.RoomID {
	var released []domain.RoomID
	for _, s := range r.sessions() {
		snap := s.snap.Load()
		r.evict(snap.Room.ID)
		if err := r.ownership.Release(ctx, snap.Room.ID); err != nil {
			r.logger.Warnw("failed to release room", "room_id", snap.Room.ID, "error", err)
			continue
		}
		if snap.Room.Active {
			released = append(released, snap.Room.ID)
		}
	}
	return released
}

// CollectGarbage expires stale requests and drops rooms closed for longer
// than the retention period.
func (r *Registry) CollectGarbage(ctx context.Context) {
	now := r.now().UTC()
	for _, s := range r.sessions() {
		snap := s.snap.Load()
		if !snap.Room.Active {
			if snap.Room.ClosedAt != nil && now.Sub(*snap.Room.ClosedAt) >= r.cfg.ClosedRoomRetention {
				r.remove(snap.Room.ID)
				r.logger.Infow("dropped closed room", "room_id", snap.Room.ID)
			}
			continue
		}

		err := r.mutate(ctx, snap.Room.ID, "gc", func(tx *roomTx) error {
			tx.expireRequests(r.metrics)
			return nil
		})
		if err != nil {
			r.logger.Warnw("request gc failed", "room_id", snap.Room.ID, "error", err)
		}
	}
}

// Heartbeat re-publishes the playback state of every active room so that
// followers that missed a broadcast converge on the next tick.
func (r *Registry) Heartbeat(ctx context.Context) {
	now := r.now().UTC()
	activeRooms, online, open := 0, 0, 0
	var events []domain.Event

	for _, s := range r.sessions() {
		snap := s.snap.Load()
		if !snap.Room.Active {
			continue
		}
		activeRooms++
		open += len(snap.Requests)
		for _, g := range snap.Guests {
			if g.Status == domain.GuestApproved && g.Online {
				online++
			}
		}
		if snap.Playback.VideoID != "" {
			events = append(events, domain.NewEvent(domain.EventPlaybackState, snap.Room.ID, domain.AudienceRoom, snap.Playback, now))
		}
	}

	r.metrics.SetRoomGauges(activeRooms, online, open)
	if len(events) > 0 {
		r.publisher.Publish(ctx, events...)
	}
}

// roomTx is the writer's view of a room inside mutate.
type roomTx struct {
	s   *roomSession
	cfg *RoomConfig
	now time.Time

	events        []domain.Event
	dirty         bool
	rosterChanged bool
}

func (tx *roomTx) touch() { tx.dirty = true }

func (tx *roomTx) touchRoster() {
	tx.dirty = true
	tx.rosterChanged = true
}

func (tx *roomTx) event(t domain.EventType, audience domain.Audience, payload any) {
	tx.emit(domain.NewEvent(t, tx.s.room.ID, audience, payload, tx.now))
}

func (tx *roomTx) emit(ev domain.Event) {
	tx.events = append(tx.events, ev)
	tx.dirty = true
}

func (tx *roomTx) view(g *domain.Guest) domain.GuestView {
	return g.View(tx.now, tx.cfg.PresenceStaleAfter)
}

func (tx *roomTx) requireActive() error {
	if !tx.s.room.Active {
		return domain.ErrRoomInactive
	}
	return nil
}

func (tx *roomTx) guest(id domain.GuestID) (*domain.Guest, error) {
	g, ok := tx.s.guests[id]
	if !ok {
		return nil, domain.ErrGuestNotFound
	}
	return g, nil
}

// member returns an approved guest acting in the room.
func (tx *roomTx) member(id domain.GuestID) (*domain.Guest, error) {
	g, ok := tx.s.guests[id]
	if !ok || g.Status != domain.GuestApproved {
		return nil, domain.ErrNotMember
	}
	return g, nil
}

func (tx *roomTx) controller(id domain.GuestID) (*domain.Guest, error) {
	g, err := tx.member(id)
	if err != nil {
		return nil, err
	}
	if !g.Role.IsController() {
		return nil, domain.ErrNotController
	}
	return g, nil
}

func (tx *roomTx) admin(id domain.GuestID) (*domain.Guest, error) {
	g, err := tx.member(id)
	if err != nil {
		return nil, err
	}
	if g.Role != domain.RoleAdmin {
		return nil, domain.ErrNotAdmin
	}
	return g, nil
}

// stamp returns a LastUpdated strictly after the current one.
func (tx *roomTx) stamp() time.Time {
	ts := tx.now
	if last := tx.s.playback.LastUpdated; !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	return ts
}

func (tx *roomTx) setPlayback(state domain.PlaybackState) {
	tx.s.playback = state
	tx.event(domain.EventPlaybackState, domain.AudienceRoom, state)
}

// dropRequestsOf removes a guest's open requests, e.g. after a kick.
func (tx *roomTx) dropRequestsOf(guestID domain.GuestID, outcome domain.Outcome) {
	for id, req := range tx.s.requests {
		if req.GuestID != guestID {
			continue
		}
		tx.resolve(id, outcome, "")
	}
}

// resolve moves an open request to the resolved set and notifies
// controllers.
func (tx *roomTx) resolve(id domain.RequestID, outcome domain.Outcome, by domain.GuestID) {
	delete(tx.s.requests, id)
	tx.s.resolved[id] = tx.now
	tx.event(domain.EventRequestResolved, domain.AudienceControllers, domain.RequestResolvedPayload{
		RequestID:  id,
		Outcome:    outcome,
		ResolvedBy: by,
	})
}

func (tx *roomTx) expireRequests(metrics ports.Metrics) {
	maxAge := tx.cfg.RequestMaxAge
	for id, req := range tx.s.requests {
		if tx.now.Sub(req.CreatedAt) >= maxAge {
			tx.resolve(id, domain.OutcomeExpired, "")
			metrics.RequestResolved(domain.OutcomeExpired)
		}
	}
	for id, at := range tx.s.resolved {
		if tx.now.Sub(at) >= maxAge {
			delete(tx.s.resolved, id)
			// tombstones are not part of the snapshot, nothing to commit
		}
	}
}
