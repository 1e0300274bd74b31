package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aditya/ridelink/internal/cache"
	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/geo"
	"github.com/aditya/ridelink/internal/identity"
	"github.com/aditya/ridelink/internal/logging"
	"github.com/aditya/ridelink/internal/metrics"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/repository"
)

// Config holds the lifecycle tunables.
type Config struct {
	ProximityMiles  float64
	CompletedWindow time.Duration
	GraceWindow     time.Duration
	DefaultLocation models.LatLng
}

func DefaultConfig() Config {
	return Config{
		ProximityMiles:  0.1,
		CompletedWindow: 5 * time.Minute,
		GraceWindow:     5 * time.Second,
		DefaultLocation: models.LatLng{Lat: 30.0444, Lng: 31.2357},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProximityMiles <= 0 {
		c.ProximityMiles = d.ProximityMiles
	}
	if c.CompletedWindow <= 0 {
		c.CompletedWindow = d.CompletedWindow
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	if c.DefaultLocation == (models.LatLng{}) {
		c.DefaultLocation = d.DefaultLocation
	}
	return c
}

// Deps are the collaborators a controller is built from. Rides is required;
// a nil Mirror gets an in-memory one and a nil Clock the wall clock.
type Deps struct {
	Rides    repository.RideRepository
	Profiles repository.ProfileRepository
	Mirror   cache.Mirror
	Geocoder geo.Geocoder
	Locator  Locator
	Clock    Clock
	Logger   zerolog.Logger
}

// Where the current ride in a view came from.
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// PoolEntry is a pending ride offered to a driver.
type PoolEntry struct {
	Ride  models.PendingRide
	Miles float64
}

// View is the derived state a presentation renders.
type View struct {
	Role      models.Role
	Ride      models.Ride
	Source    string
	Lingering bool
	Notice    string
	Pool      []PoolEntry
	UpdatedAt time.Time
}

type poolEntryJSON struct {
	Ride  models.RideRecord `json:"ride"`
	Miles float64           `json:"miles"`
}

func (e PoolEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(poolEntryJSON{Ride: e.Ride.Record(), Miles: e.Miles})
}

func (v View) MarshalJSON() ([]byte, error) {
	out := struct {
		Role      models.Role        `json:"role"`
		Status    string             `json:"status"`
		Ride      *models.RideRecord `json:"ride"`
		Source    string             `json:"source,omitempty"`
		Lingering bool               `json:"lingering"`
		Notice    string             `json:"notice,omitempty"`
		Pool      []poolEntryJSON    `json:"pool,omitempty"`
		UpdatedAt models.EpochMillis `json:"updatedAt"`
	}{
		Role:      v.Role,
		Status:    "none",
		Source:    v.Source,
		Lingering: v.Lingering,
		Notice:    v.Notice,
		UpdatedAt: models.FromTime(v.UpdatedAt),
	}
	if v.Ride != nil {
		rec := v.Ride.Record()
		out.Ride = &rec
		out.Status = string(v.Ride.Status())
	}
	for _, e := range v.Pool {
		out.Pool = append(out.Pool, poolEntryJSON{Ride: e.Ride.Record(), Miles: e.Miles})
	}
	return json.Marshal(out)
}

// RideController owns one user's view of the ride lifecycle for one role.
// It validates intents, writes them to the ride store and derives its
// current ride only from what the store's subscription pushes back.
//
// Store calls are never made while c.mu is held: the memory backend delivers
// snapshots on the writing goroutine.
type RideController struct {
	user     identity.User
	role     models.Role
	cfg      Config
	rides    repository.RideRepository
	profiles repository.ProfileRepository
	cache    *cache.UserCache
	geocoder geo.Geocoder
	locator  *FallbackLocator
	clock    Clock
	logger   zerolog.Logger
	inflight *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	opened      bool
	closed      bool
	ride        models.Ride
	source      string
	lingering   bool
	lingerID    string
	clearTimer  Timer
	dismissed   map[string]struct{}
	pool        []models.PendingRide
	lastPos     *models.LatLng
	notice      string
	updatedAt   time.Time
	watchers    map[int]chan View
	nextWatcher int
	unsubscribe []func()
}

func NewRideController(user identity.User, role models.Role, deps Deps, cfg Config) (*RideController, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrUnauthorized)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperrors.ErrBadRequest, role)
	}
	if deps.Rides == nil {
		return nil, errors.New("ride repository is required")
	}

	mirror := deps.Mirror
	if mirror == nil {
		mirror = cache.NewMemoryMirror()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	cfg = cfg.withDefaults()
	logger := logging.ForSession(deps.Logger, user.ID, string(role))
	uc := cache.NewUserCache(mirror, user.ID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &RideController{
		user:      user,
		role:      role,
		cfg:       cfg,
		rides:     deps.Rides,
		profiles:  deps.Profiles,
		cache:     uc,
		geocoder:  deps.Geocoder,
		locator:   NewFallbackLocator(deps.Locator, uc, cfg.DefaultLocation, logger),
		clock:     clock,
		logger:    logger,
		inflight:  semaphore.NewWeighted(1),
		ctx:       ctx,
		cancel:    cancel,
		dismissed: make(map[string]struct{}),
		watchers:  make(map[int]chan View),
	}

	if last, err := uc.LastLocation(); err == nil && last != nil {
		c.lastPos = last
	}
	return c, nil
}

func (c *RideController) User() identity.User { return c.user }
func (c *RideController) Role() models.Role   { return c.role }

// Open paints the cached ride, if any, and subscribes to the store. The
// subscription lives until Close.
func (c *RideController) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.opened = true
	c.mu.Unlock()

	c.paintFromCache()

	unsub, err := c.rides.Subscribe(c.ctx, c.ownFilter(), c.onSnapshot)
	if err != nil {
		return fmt.Errorf("subscribe to rides: %w", err)
	}
	c.addUnsubscribe(unsub)

	if c.role == models.RoleDriver {
		pool := models.RideFilter{Statuses: []models.RideStatus{models.RideStatusPending}}
		unsub, err := c.rides.Subscribe(c.ctx, pool, c.onPool)
		if err != nil {
			return fmt.Errorf("subscribe to ride pool: %w", err)
		}
		c.addUnsubscribe(unsub)
	}

	c.logger.Info().Msg("session opened")
	return nil
}

func (c *RideController) ownFilter() models.RideFilter {
	if c.role == models.RoleDriver {
		return models.RideFilter{
			DriverID: c.user.ID,
			Statuses: []models.RideStatus{models.RideStatusAccepted, models.RideStatusStarted, models.RideStatusCompleted},
		}
	}
	return models.RideFilter{
		CustomerID: c.user.ID,
		Statuses: []models.RideStatus{
			models.RideStatusPending, models.RideStatusAccepted,
			models.RideStatusStarted, models.RideStatusCompleted,
		},
	}
}

func (c *RideController) addUnsubscribe(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.unsubscribe = append(c.unsubscribe, fn)
	c.mu.Unlock()
}

// Close unsubscribes, stops timers, closes watcher channels and waits for
// background address lookups.
func (c *RideController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLingerLocked()
	unsubs := c.unsubscribe
	c.unsubscribe = nil
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info().Msg("session closed")
}

func (c *RideController) paintFromCache() {
	rec, err := c.cache.ActiveRide(c.role)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read cached ride")
		return
	}
	if rec == nil {
		return
	}

	ride, err := models.Decode(*rec)
	if err != nil || ride.Status() == models.RideStatusCancelled {
		c.logger.Warn().Err(err).Str("ride_id", rec.ID).Msg("dropping unusable cached ride")
		if err := c.cache.ClearActiveRide(c.role); err != nil {
			c.logger.Warn().Err(err).Msg("failed to clear cached ride")
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != "" {
		return
	}
	c.ride = ride
	c.source = SourceCache
	c.lingering = ride.Status() == models.RideStatusCompleted
	c.updatedAt = c.clock.Now()
	c.broadcastLocked()
}

func (c *RideController) onSnapshot(records []models.RideRecord) {
	metrics.SnapshotsReceived.WithLabelValues(string(c.role)).Inc()
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	d := Reconcile(records, now, c.cfg.CompletedWindow, c.cfg.GraceWindow, c.isDismissedLocked)
	if d.Skipped > 0 {
		c.logger.Warn().Int("skipped", d.Skipped).Msg("snapshot contained malformed rides")
	}

	switch {
	case d.Ride == nil:
		c.stopLingerLocked()
		c.setRideLocked(nil, SourceRemote, now)

	case d.Lingering:
		id := d.Ride.RideID()
		if c.lingerID != id {
			c.stopLingerLocked()
			c.lingerID = id
			c.clearTimer = c.clock.AfterFunc(d.ClearAt.Sub(now), func() { c.expireLinger(id) })
		}
		c.lingering = true
		c.setRideLocked(d.Ride, SourceRemote, now)

	default:
		c.stopLingerLocked()
		c.setRideLocked(d.Ride, SourceRemote, now)
	}
}

func (c *RideController) onPool(records []models.RideRecord) {
	pool := make([]models.PendingRide, 0, len(records))
	for _, rec := range records {
		ride, err := models.Decode(rec)
		if err != nil {
			c.logger.Warn().Err(err).Str("ride_id", rec.ID).Msg("skipping malformed pool ride")
			continue
		}
		if pending, ok := ride.(models.PendingRide); ok {
			pool = append(pool, pending)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pool = pool
	c.updatedAt = c.clock.Now()
	c.broadcastLocked()
}

func (c *RideController) expireLinger(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.lingerID != id {
		return
	}

	c.dismissed[id] = struct{}{}
	c.clearTimer = nil
	c.lingerID = ""
	c.lingering = false
	if c.ride != nil && c.ride.RideID() == id {
		c.setRideLocked(nil, c.source, c.clock.Now())
	}
}

func (c *RideController) isDismissedLocked(id string) bool {
	_, ok := c.dismissed[id]
	return ok
}

func (c *RideController) stopLingerLocked() {
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	c.lingerID = ""
	c.lingering = false
}

// setRideLocked replaces the current ride, mirrors it to the cache and
// notifies watchers.
func (c *RideController) setRideLocked(ride models.Ride, source string, now time.Time) {
	c.ride = ride
	c.source = source
	c.updatedAt = now

	var err error
	if ride == nil {
		err = c.cache.ClearActiveRide(c.role)
	} else {
		err = c.cache.SetActiveRide(c.role, ride.Record())
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to update cache mirror")
	}

	c.broadcastLocked()
}

func (c *RideController) viewLocked() View {
	v := View{
		Role:      c.role,
		Ride:      c.ride,
		Source:    c.source,
		Lingering: c.lingering,
		Notice:    c.notice,
		UpdatedAt: c.updatedAt,
	}
	if c.role == models.RoleDriver {
		v.Pool = c.poolLocked()
	}
	return v
}

func (c *RideController) poolLocked() []PoolEntry {
	origin := c.cfg.DefaultLocation
	if c.lastPos != nil {
		origin = *c.lastPos
	}

	entries := make([]PoolEntry, 0, len(c.pool))
	for _, r := range c.pool {
		entries = append(entries, PoolEntry{Ride: r, Miles: geo.HaversineMiles(origin, r.Pickup)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Miles != entries[j].Miles {
			return entries[i].Miles < entries[j].Miles
		}
		return entries[i].Ride.ID < entries[j].Ride.ID
	})
	return entries
}

// broadcastLocked pushes the latest view to every watcher. A watcher that has
// not read the previous view gets it replaced.
func (c *RideController) broadcastLocked() {
	if len(c.watchers) == 0 {
		return
	}
	v := c.viewLocked()
	for _, ch := range c.watchers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// View returns the current derived state.
func (c *RideController) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Ride returns the current ride or nil.
func (c *RideController) Ride() models.Ride {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ride
}

// Pool returns the pending rides nearest first. Empty for customers.
func (c *RideController) Pool() []PoolEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolLocked()
}

// Watch streams views, starting with the current one. Only the latest view
// is kept for a slow reader. The receiver must not call back into the
// controller while handling a view on the delivering goroutine; the channel
// is closed by Close.
func (c *RideController) Watch() (<-chan View, func()) {
	ch := make(chan View, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.viewLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *RideController) setNotice(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.notice == msg {
		return
	}
	c.notice = msg
	c.broadcastLocked()
}

func (c *RideController) guard(role models.Role, event string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return apperrors.ErrSessionClosed
	}
	if c.role != role {
		return fmt.Errorf("%w: a %s cannot %s", apperrors.ErrNotParticipant, c.role, event)
	}
	return nil
}

func (c *RideController) reject(event string, err error) error {
	metrics.RideRejections.WithLabelValues(event, rejectReason(err)).Inc()
	c.logger.Info().Err(err).Str("event", event).Msg("intent rejected")
	c.setNotice(apperrors.ToAPI(err).Message)
	return err
}

func rejectReason(err error) string {
	var proximity *apperrors.ProximityError
	switch {
	case errors.As(err, &proximity):
		return "too_far"
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperrors.ErrStaleRecord):
		return "stale"
	case errors.Is(err, apperrors.ErrUserHasActiveRide), errors.Is(err, apperrors.ErrDriverBusy):
		return "busy"
	case errors.Is(err, apperrors.ErrPhoneRequired):
		return "phone_required"
	case errors.Is(err, apperrors.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrNoActiveRide):
		return "not_found"
	case errors.Is(err, apperrors.ErrLocationUnavailable):
		return "no_location"
	case errors.Is(err, apperrors.ErrMissingDestination), errors.Is(err, apperrors.ErrInvalidPrice),
		errors.Is(err, apperrors.ErrBadRequest):
		return "validation"
	}
	return "backend"
}

// load reads the ride fresh from the store. An empty id means the current
// ride.
func (c *RideController) load(ctx context.Context, rideID string) (models.RideRecord, models.Ride, error) {
	if rideID == "" {
		c.mu.Lock()
		if c.ride != nil {
			rideID = c.ride.RideID()
		}
		c.mu.Unlock()
	}
	if rideID == "" {
		return models.RideRecord{}, nil, apperrors.ErrNoActiveRide
	}

	rec, err := c.rides.Get(ctx, rideID)
	if err != nil {
		return models.RideRecord{}, nil, fmt.Errorf("load ride %s: %w", rideID, err)
	}
	if rec == nil {
		return models.RideRecord{}, nil, fmt.Errorf("%w: ride %s", apperrors.ErrNotFound, rideID)
	}

	ride, err := models.Decode(*rec)
	if err != nil {
		return models.RideRecord{}, nil, err
	}
	return *rec, ride, nil
}

// commit writes t with a compare-and-swap on t.From and returns the ride as
// written.
func (c *RideController) commit(ctx context.Context, event string, rec models.RideRecord, t Transition) (models.Ride, error) {
	if err := c.rides.Update(ctx, t.RideID, t.Patch, t.From); err != nil {
		return nil, c.reject(event, fmt.Errorf("%s ride %s: %w", event, t.RideID, err))
	}

	if t.From != t.To {
		metrics.RideTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
		c.logger.Info().
			Str("ride_id", t.RideID).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("ride transitioned")
	}
	c.setNotice("")

	updated, err := t.Apply(rec)
	if err != nil {
		return nil, err
	}
	return models.Decode(updated)
}

func (c *RideController) displayName(ctx context.Context) string {
	if c.profiles != nil {
		profile, err := c.profiles.GetProfile(ctx, c.user.ID)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to read profile")
		} else if profile != nil && profile.DisplayName != "" {
			return profile.DisplayName
		}
	}
	return c.user.Name
}

// RequestRide opens a pending ride for the customer and seeds the cache.
// Missing addresses are resolved in the background and patched in.
func (c *RideController) RequestRide(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	const event = "request"
	if err := c.guard(models.RoleCustomer, event); err != nil {
		return nil, err
	}

	customer := Customer{ID: c.user.ID, Name: c.user.Name}
	rec, err := RequestRecord(customer, req, c.clock.Now())
	if err != nil {
		return nil, c.reject(event, err)
	}

	if current := c.Ride(); current != nil && current.Status().IsActive() {
		return nil, c.reject(event, apperrors.ErrUserHasActiveRide)
	}
	existing, err := c.rides.List(ctx, models.RideFilter{CustomerID: c.user.ID, Statuses: models.ActiveStatuses})
	if err != nil {
		return nil, c.reject(event, fmt.Errorf("check active rides: %w", err))
	}
	if len(existing) > 0 {
		return nil, c.reject(event, apperrors.ErrUserHasActiveRide)
	}

	rec.CustomerName = c.displayName(ctx)
	phone, err := lookupPhone(ctx, c.profiles, c.cache, c.user.ID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to look up phone number")
	}
	rec.CustomerPhoneNumber = phone

	id, err := c.rides.Create(ctx, rec)
	if err != nil {
		return nil, c.reject(event, fmt.Errorf("create ride: %w", err))
	}
	rec.ID = id

	metrics.RideTransitions.WithLabelValues("none", string(models.RideStatusPending)).Inc()
	c.logger.Info().Str("ride_id", id).Float64("price", rec.EstimatedPrice).Msg("ride requested")
	c.setNotice("")

	if err := c.cache.SetActiveRide(c.role, rec); err != nil {
		c.logger.Warn().Err(err).Msg("failed to seed cache mirror")
	}
	c.resolveAddresses(rec)

	return models.Decode(rec)
}

func (c *RideController) resolveAddresses(rec models.RideRecord) {
	if c.geocoder == nil || (rec.PickupAddress != "" && rec.DestinationAddress != "") {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()

		patch := models.Patch{}
		lookup := func(field string, p models.LatLng) {
			addr, err := c.geocoder.ReverseGeocode(ctx, p)
			if err != nil {
				c.logger.Warn().Err(err).Str("ride_id", rec.ID).Str("field", field).Msg("address lookup failed")
				return
			}
			if addr != "" {
				patch[field] = addr
			}
		}
		if rec.PickupAddress == "" {
			lookup(models.FieldPickupAddress, rec.PickupLocation)
		}
		if rec.DestinationAddress == "" {
			lookup(models.FieldDestinationAddress, rec.DestinationLocation)
		}
		if len(patch) == 0 {
			return
		}

		if err := c.rides.Update(ctx, rec.ID, patch); err != nil {
			c.logger.Warn().Err(err).Str("ride_id", rec.ID).Msg("failed to store resolved addresses")
		}
	}()
}

// Accept claims a pending ride for the driver.
func (c *RideController) Accept(ctx context.Context, rideID string) (models.Ride, error) {
	const event = "accept"
	if err := c.guard(models.RoleDriver, event); err != nil {
		return nil, err
	}
	if rideID == "" {
		return nil, c.reject(event, fmt.Errorf("%w: ride id is required", apperrors.ErrBadRequest))
	}

	phone, err := phoneOnFile(ctx, c.profiles, c.user.ID)
	if err != nil {
		return nil, c.reject(event, fmt.Errorf("look up phone number: %w", err))
	}
	if phone == "" {
		return nil, c.reject(event, apperrors.ErrPhoneRequired)
	}

	if current := c.Ride(); current != nil && current.Status().IsActive() {
		return nil, c.reject(event, apperrors.ErrDriverBusy)
	}
	busy, err := c.rides.List(ctx, models.RideFilter{
		DriverID: c.user.ID,
		Statuses: []models.RideStatus{models.RideStatusAccepted, models.RideStatusStarted},
	})
	if err != nil {
		return nil, c.reject(event, fmt.Errorf("check active rides: %w", err))
	}
	if len(busy) > 0 {
		return nil, c.reject(event, apperrors.ErrDriverBusy)
	}

	rec, ride, err := c.load(ctx, rideID)
	if err != nil {
		return nil, c.reject(event, err)
	}
	t, err := AcceptTransition(ride, models.DriverInfo{ID: c.user.ID, Name: c.displayName(ctx), PhoneNumber: phone})
	if err != nil {
		return nil, c.reject(event, err)
	}
	return c.commit(ctx, event, rec, t)
}

// position returns pos when given, otherwise the best available location and
// a notice when it is not a fresh device fix.
func (c *RideController) position(ctx context.Context, pos *models.LatLng) (models.LatLng, string) {
	if pos != nil {
		c.recordPosition(*pos)
		return *pos, ""
	}

	p, notice := c.locator.Resolve(ctx)
	if notice == "" {
		c.mu.Lock()
		c.lastPos = &p
		c.mu.Unlock()
	} else {
		c.setNotice(notice)
	}
	return p, notice
}

func (c *RideController) recordPosition(p models.LatLng) {
	if err := c.cache.SetLastLocation(p); err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache location")
	}
	c.mu.Lock()
	c.lastPos = &p
	c.broadcastLocked()
	c.mu.Unlock()
}

// UpdatePosition records the device position without touching any ride.
// Drivers use it while idle so the pool is ranked from where they are.
func (c *RideController) UpdatePosition(p models.LatLng) {
	c.recordPosition(p)
}

// StartTrip starts the accepted ride once the driver is at the pickup. A nil
// pos asks the locator, falling back to the last known position. The default
// location never satisfies the pickup check.
func (c *RideController) StartTrip(ctx context.Context, rideID string, pos *models.LatLng) (models.Ride, error) {
	const event = "start"
	if err := c.guard(models.RoleDriver, event); err != nil {
		return nil, err
	}

	p, notice := c.position(ctx, pos)
	if notice == NoticeDefaultLocation {
		metrics.RideRejections.WithLabelValues(event, rejectReason(apperrors.ErrLocationUnavailable)).Inc()
		c.logger.Info().Str("event", event).Msg("intent rejected: no driver position")
		return nil, apperrors.ErrLocationUnavailable
	}
	rec, ride, err := c.load(ctx, rideID)
	if err != nil {
		return nil, c.reject(event, err)
	}
	t, err := StartTransition(ride, c.user.ID, p, c.cfg.ProximityMiles, c.clock.Now())
	if err != nil {
		return nil, c.reject(event, err)
	}

	started, err := c.commit(ctx, event, rec, t)
	if err == nil && notice != "" {
		c.setNotice(notice)
	}
	return started, err
}

// PushLocation adds a driver position sample to the started ride. Only one
// update runs at a time; a call made while another is in flight is dropped
// with ErrUpdateInFlight.
func (c *RideController) PushLocation(ctx context.Context, rideID string, pos *models.LatLng) (models.Ride, error) {
	const event = "location"
	if err := c.guard(models.RoleDriver, event); err != nil {
		return nil, err
	}
	if !c.inflight.TryAcquire(1) {
		metrics.LocationUpdatesDropped.Inc()
		return nil, apperrors.ErrUpdateInFlight
	}
	defer c.inflight.Release(1)

	p, notice := c.position(ctx, pos)
	if notice != "" {
		return nil, apperrors.ErrLocationUnavailable
	}

	rec, ride, err := c.load(ctx, rideID)
	if err != nil {
		return nil, c.reject(event, err)
	}
	t, err := LocationTransition(ride, c.user.ID, p)
	if err != nil {
		return nil, c.reject(event, err)
	}
	return c.commit(ctx, event, rec, t)
}

// Complete ends the started ride, freezing its mileage.
func (c *RideController) Complete(ctx context.Context, rideID string) (models.Ride, error) {
	const event = "complete"
	if err := c.guard(models.RoleDriver, event); err != nil {
		return nil, err
	}

	rec, ride, err := c.load(ctx, rideID)
	if err != nil {
		return nil, c.reject(event, err)
	}
	t, err := CompleteTransition(ride, c.user.ID, c.clock.Now())
	if err != nil {
		return nil, c.reject(event, err)
	}
	return c.commit(ctx, event, rec, t)
}

// Cancel terminates the ride for a customer or hands it back to the pool for
// a driver.
func (c *RideController) Cancel(ctx context.Context, rideID string) (models.Ride, error) {
	const event = "cancel"
	if err := c.guard(c.role, event); err != nil {
		return nil, err
	}

	rec, ride, err := c.load(ctx, rideID)
	if err != nil {
		return nil, c.reject(event, err)
	}
	t, err := CancelTransition(ride, c.role, c.user.ID, c.clock.Now())
	if err != nil {
		return nil, c.reject(event, err)
	}

	updated, err := c.commit(ctx, event, rec, t)
	if err != nil {
		return nil, err
	}
	if err := c.cache.ClearActiveRide(c.role); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear cache mirror")
	}
	return updated, nil
}

// Reset drops a finished ride from the session and the cache. The stored
// record is not touched. It fails while the ride is still active.
func (c *RideController) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperrors.ErrSessionClosed
	}

	if c.ride != nil {
		if c.ride.Status().IsActive() {
			return &apperrors.TransitionError{From: string(c.ride.Status()), To: "none"}
		}
		c.dismissed[c.ride.RideID()] = struct{}{}
	}
	c.stopLingerLocked()
	c.notice = ""
	c.setRideLocked(nil, SourceLocal, c.clock.Now())
	return nil
}
