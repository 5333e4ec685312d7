// Package listview holds the per-session state behind the catalog list:
// loaded items, the owned set, search and filter state, and toggles.
package listview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/matthewgall/binder/internal/dex"
	"github.com/matthewgall/binder/internal/models"
	"github.com/matthewgall/binder/internal/ownership"
)

var (
	ErrNoIdentity         = ownership.ErrNoIdentity
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrNotLoaded          = errors.New("catalog not loaded")
	ErrUnknownItem        = errors.New("unknown item")
	ErrInvalidAction      = errors.New("invalid toggle action")
	ErrStaleToggle        = errors.New("toggle no longer matches ownership")
	ErrToggleInFlight     = errors.New("toggle already in flight")
	ErrStoreWrite         = errors.New("ownership update failed")
	ErrReset              = errors.New("view was reset")
	ErrClosed             = errors.New("view closed")
)

const DefaultSearchDebounce = 300 * time.Millisecond

type LoadState string

const (
	StateIdle               LoadState = "idle"
	StateLoading            LoadState = "loading"
	StateReady              LoadState = "ready"
	StateCatalogUnavailable LoadState = "catalog_unavailable"
	StateOwnershipFailed    LoadState = "ownership_failed"
)

type CatalogLoader interface {
	LoadCatalog(ctx context.Context) ([]models.Item, error)
}

// Identity resolves the signed-in user at call time. Zero means nobody.
type Identity interface {
	UserID() int64
}

type Options struct {
	SearchDebounce time.Duration
	// ImageURL rewrites item images in snapshots, e.g. to a sprite mirror.
	ImageURL func(models.Item) string
	// OnChange runs after the debounced search text changes.
	OnChange func()
}

type Filter struct {
	SearchText          string `json:"search_text"`
	DebouncedSearchText string `json:"debounced_search_text"`
	OnlyOwned           bool   `json:"only_owned"`
	OnlyNotOwned        bool   `json:"only_not_owned"`
}

type Entry struct {
	Item     models.Item     `json:"item"`
	Owned    bool            `json:"owned"`
	Pending  bool            `json:"pending"`
	Location models.Location `json:"location"`
}

type Snapshot struct {
	Entries    []Entry                 `json:"entries"`
	Filter     Filter                  `json:"filter"`
	Searching  bool                    `json:"searching"`
	Catalog    LoadState               `json:"catalog"`
	Ownership  LoadState               `json:"ownership"`
	Stats      []models.GenerationStat `json:"stats"`
	OwnedCount int                     `json:"owned_count"`
	Total      int                     `json:"total"`
}

type Prompt struct {
	Item   models.Item         `json:"item"`
	Action models.ToggleAction `json:"action"`
	Label  string              `json:"label"`
}

type View struct {
	catalog  CatalogLoader
	store    ownership.Store
	identity Identity
	imageURL func(models.Item) string
	onChange func()
	search   *debouncer

	mu             sync.Mutex
	epoch          uint64
	closed         bool
	items          []models.Item
	index          map[int]int
	owned          dex.OwnedSet
	catalogState   LoadState
	ownershipState LoadState
	filter         Filter
	inFlight       map[int]struct{}
	loading        chan struct{}
	loadErr        error
}

func New(catalog CatalogLoader, store ownership.Store, identity Identity, opts Options) *View {
	v := &View{
		catalog:  catalog,
		store:    store,
		identity: identity,
		imageURL: opts.ImageURL,
		onChange: opts.OnChange,
		search:   newDebouncer(opts.SearchDebounce),
	}
	v.resetLocked()
	return v
}

func (v *View) resetLocked() {
	v.epoch++
	v.items = nil
	v.index = make(map[int]int)
	v.owned = dex.NewOwnedSet()
	v.catalogState = StateIdle
	v.ownershipState = StateIdle
	v.filter = Filter{}
	v.inFlight = make(map[int]struct{})
	v.loading = nil
	v.loadErr = nil
}

// Load fetches the catalog and then the owned set, once per session.
// Concurrent callers wait for the same load. A failed catalog load may be retried.
func (v *View) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.catalogState == StateReady && v.ownershipState != StateLoading && v.ownershipState != StateIdle {
		v.mu.Unlock()
		return nil
	}
	if v.loading != nil {
		wait := v.loading
		epoch := v.epoch
		v.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		v.mu.Lock()
		if epoch != v.epoch {
			v.mu.Unlock()
			return ErrReset
		}
		err := v.loadErr
		v.mu.Unlock()
		if isContextErr(err) && ctx.Err() == nil {
			// The caller that started the load went away; start over.
			return v.Load(ctx)
		}
		return err
	}

	userID := v.identity.UserID()
	if userID == 0 {
		v.mu.Unlock()
		return ErrNoIdentity
	}

	done := make(chan struct{})
	v.loading = done
	v.loadErr = nil
	v.catalogState = StateLoading
	epoch := v.epoch
	v.mu.Unlock()

	err := v.load(ctx, epoch, userID)

	v.mu.Lock()
	if epoch == v.epoch {
		v.loadErr = err
		v.loading = nil
	}
	v.mu.Unlock()
	close(done)
	return err
}

func (v *View) load(ctx context.Context, epoch uint64, userID int64) error {
	items, err := v.catalog.LoadCatalog(ctx)

	v.mu.Lock()
	if epoch != v.epoch {
		v.mu.Unlock()
		return ErrReset
	}
	if err != nil && isContextErr(err) && ctx.Err() != nil {
		v.catalogState = StateIdle
		v.mu.Unlock()
		return err
	}
	if err != nil {
		v.catalogState = StateCatalogUnavailable
		v.mu.Unlock()
		log.Printf("Warning: failed to load catalog: %v", err)
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	v.items = items
	v.index = make(map[int]int, len(items))
	for i, item := range items {
		v.index[item.ID] = i
	}
	v.catalogState = StateReady
	v.mu.Unlock()

	return v.loadOwned(ctx, epoch, userID)
}

func (v *View) loadOwned(ctx context.Context, epoch uint64, userID int64) error {
	v.mu.Lock()
	if epoch != v.epoch {
		v.mu.Unlock()
		return ErrReset
	}
	v.ownershipState = StateLoading
	v.mu.Unlock()

	// A caller going away is not a store failure, so the read outlives it.
	ids, err := v.store.LoadOwned(context.WithoutCancel(ctx), userID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if epoch != v.epoch {
		return ErrReset
	}
	if err != nil {
		log.Printf("Warning: failed to load owned items for user %d: %v", userID, err)
		v.owned = dex.NewOwnedSet()
		v.ownershipState = StateOwnershipFailed
		return nil
	}
	v.owned = dex.NewOwnedSet(ids...)
	v.ownershipState = StateReady
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Reload re-reads the owned set, loading the catalog first if it is not ready.
func (v *View) Reload(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	ready := v.catalogState == StateReady && v.loading == nil
	epoch := v.epoch
	v.mu.Unlock()

	if !ready {
		return v.Load(ctx)
	}

	userID := v.identity.UserID()
	if userID == 0 {
		return ErrNoIdentity
	}
	return v.loadOwned(ctx, epoch, userID)
}

// SetSearch records text immediately; the value used for filtering follows
// once input has been quiet for the debounce window.
func (v *View) SetSearch(text string) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.filter.SearchText = strings.ToLower(text)
	epoch := v.epoch
	v.mu.Unlock()

	v.search.Trigger(func() {
		v.mu.Lock()
		if epoch != v.epoch || v.filter.DebouncedSearchText == v.filter.SearchText {
			v.mu.Unlock()
			return
		}
		v.filter.DebouncedSearchText = v.filter.SearchText
		v.mu.Unlock()
		if v.onChange != nil {
			v.onChange()
		}
	})
}

// Searching reports whether the debounced search still lags the typed text.
func (v *View) Searching() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter.SearchText != v.filter.DebouncedSearchText
}

func (v *View) ToggleOnlyOwned() Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter.OnlyOwned = !v.filter.OnlyOwned
	if v.filter.OnlyOwned {
		v.filter.OnlyNotOwned = false
	}
	return v.filter
}

func (v *View) ToggleOnlyNotOwned() Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter.OnlyNotOwned = !v.filter.OnlyNotOwned
	if v.filter.OnlyNotOwned {
		v.filter.OnlyOwned = false
	}
	return v.filter
}

func (v *View) Filter() Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	visible := dex.Apply(v.items, v.owned, dex.Filter{
		SearchText:   v.filter.DebouncedSearchText,
		OnlyOwned:    v.filter.OnlyOwned,
		OnlyNotOwned: v.filter.OnlyNotOwned,
	})

	entries := make([]Entry, 0, len(visible))
	for _, item := range visible {
		if v.imageURL != nil {
			item.ImageURL = v.imageURL(item)
		}
		_, pending := v.inFlight[item.ID]
		entries = append(entries, Entry{
			Item:     item,
			Owned:    v.owned.Has(item.ID),
			Pending:  pending,
			Location: dex.Locate(item.ID),
		})
	}

	return Snapshot{
		Entries:    entries,
		Filter:     v.filter,
		Searching:  v.filter.SearchText != v.filter.DebouncedSearchText,
		Catalog:    v.catalogState,
		Ownership:  v.ownershipState,
		Stats:      dex.VisibleStats(dex.StatsByGeneration(v.items, v.owned)),
		OwnedCount: v.owned.Len(),
		Total:      len(v.items),
	}
}

// Stats recomputes per-generation totals, without the unknown bucket.
func (v *View) Stats() []models.GenerationStat {
	v.mu.Lock()
	defer v.mu.Unlock()
	return dex.VisibleStats(dex.StatsByGeneration(v.items, v.owned))
}

// Owned returns a copy of the owned set.
func (v *View) Owned() dex.OwnedSet {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owned.Clone()
}

func (v *View) itemLocked(id int) (models.Item, error) {
	if v.catalogState != StateReady {
		return models.Item{}, ErrNotLoaded
	}
	i, ok := v.index[id]
	if !ok {
		return models.Item{}, ErrUnknownItem
	}
	return v.items[i], nil
}

func (v *View) actionLocked(id int) models.ToggleAction {
	if v.owned.Has(id) {
		return models.ActionRemove
	}
	return models.ActionAdd
}

// Prompt decides the confirmation for id from current membership.
func (v *View) Prompt(id int) (Prompt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	item, err := v.itemLocked(id)
	if err != nil {
		return Prompt{}, err
	}
	action := v.actionLocked(id)
	return Prompt{Item: item, Action: action, Label: action.Label()}, nil
}

// Confirm applies action to id. The action must still match current
// membership and only one toggle per id may be outstanding. The owned set
// changes only after the store accepts the write.
func (v *View) Confirm(ctx context.Context, id int, action models.ToggleAction) (bool, error) {
	if !action.Valid() {
		return false, ErrInvalidAction
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false, ErrClosed
	}
	if _, err := v.itemLocked(id); err != nil {
		v.mu.Unlock()
		return false, err
	}
	if _, busy := v.inFlight[id]; busy {
		v.mu.Unlock()
		return false, ErrToggleInFlight
	}
	if current := v.actionLocked(id); current != action {
		owned := v.owned.Has(id)
		v.mu.Unlock()
		return owned, ErrStaleToggle
	}
	userID := v.identity.UserID()
	if userID == 0 {
		v.mu.Unlock()
		return false, ErrNoIdentity
	}
	v.inFlight[id] = struct{}{}
	epoch := v.epoch
	v.mu.Unlock()

	var err error
	if action == models.ActionAdd {
		err = v.store.AddOwned(ctx, userID, id)
	} else {
		err = v.store.RemoveOwned(ctx, userID, id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if epoch != v.epoch {
		return false, ErrReset
	}
	delete(v.inFlight, id)
	if err != nil {
		log.Printf("Warning: failed to %s item %d for user %d: %v", action, id, userID, err)
		return v.owned.Has(id), fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	if action == models.ActionAdd {
		v.owned.Add(id)
	} else {
		v.owned.Remove(id)
	}
	return v.owned.Has(id), nil
}

// Reset returns the view to its signed-out state. Responses to requests
// issued before the reset are dropped.
func (v *View) Reset() {
	v.search.Stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

// Close resets the view and detaches it for good.
func (v *View) Close() {
	v.search.Stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
	v.closed = true
}
