package hostdoc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/engsnap/internal/domain"
)

// MemDocument is an in-memory Document. It honors the same contract as a
// real host document: transactional mutation with full rollback, reads that
// observe uncommitted writes, and monotonic element ids.
type MemDocument struct {
	mu       sync.Mutex
	entities map[int64]domain.TrackedEntity
	names    map[string]int64
	nextID   int64
}

// NewMemDocument returns an empty document.
func NewMemDocument() *MemDocument {
	return &MemDocument{
		entities: map[int64]domain.TrackedEntity{},
		names:    map[string]int64{},
		nextID:   1,
	}
}

// RegisterNamedElement registers a named resolve target (a level or phase)
// and returns its element id.
func (d *MemDocument) RegisterNamedElement(name string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.names[name]; ok {
		return id
	}
	id := d.nextID
	d.nextID++
	d.names[name] = id
	return id
}

// AddEntity seeds an entity, assigning an element id when none is set, and
// returns the stored copy.
func (d *MemDocument) AddEntity(entity domain.TrackedEntity) domain.TrackedEntity {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entity.ElementID == 0 {
		entity.ElementID = d.nextID
		d.nextID++
	} else if entity.ElementID >= d.nextID {
		d.nextID = entity.ElementID + 1
	}
	if entity.Parameters == nil {
		entity.Parameters = map[string]domain.Parameter{}
	}
	d.entities[entity.ElementID] = cloneEntity(entity)
	return entity
}

// ListEntities returns entities of the category ordered by element id. An
// empty category lists everything.
func (d *MemDocument) ListEntities(ctx context.Context, category domain.Category) ([]domain.TrackedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listLocked(category), nil
}

// GetEntity returns one entity by element id.
func (d *MemDocument) GetEntity(ctx context.Context, elementID int64) (domain.TrackedEntity, error) {
	if err := ctx.Err(); err != nil {
		return domain.TrackedEntity{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLocked(elementID)
}

// ResolveByName resolves a registered named target to its element id.
func (d *MemDocument) ResolveByName(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveLocked(name)
}

// WithTransaction runs fn against a mutable view of the document. Any error
// (or panic) from fn restores the pre-transaction state in full.
func (d *MemDocument) WithTransaction(ctx context.Context, name string, fn func(Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	backupEntities := make(map[int64]domain.TrackedEntity, len(d.entities))
	for id, entity := range d.entities {
		backupEntities[id] = cloneEntity(entity)
	}
	backupNames := make(map[string]int64, len(d.names))
	for n, id := range d.names {
		backupNames[n] = id
	}
	backupNextID := d.nextID

	restore := func() {
		d.entities = backupEntities
		d.names = backupNames
		d.nextID = backupNextID
	}

	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err := fn(&memTx{doc: d}); err != nil {
		restore()
		return fmt.Errorf("transaction %q rolled back: %w", name, err)
	}
	return nil
}

func (d *MemDocument) listLocked(category domain.Category) []domain.TrackedEntity {
	out := make([]domain.TrackedEntity, 0, len(d.entities))
	for _, entity := range d.entities {
		if category != "" && entity.Category != category {
			continue
		}
		out = append(out, cloneEntity(entity))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}

func (d *MemDocument) getLocked(elementID int64) (domain.TrackedEntity, error) {
	entity, ok := d.entities[elementID]
	if !ok {
		return domain.TrackedEntity{}, fmt.Errorf("element %d: %w", elementID, ErrEntityNotFound)
	}
	return cloneEntity(entity), nil
}

func (d *MemDocument) resolveLocked(name string) (int64, error) {
	id, ok := d.names[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrNameNotFound)
	}
	return id, nil
}

// memTx mutates the owning document directly; WithTransaction holds the lock
// for the whole callback and restores a snapshot on failure.
type memTx struct {
	doc *MemDocument
}

func (t *memTx) ListEntities(category domain.Category) ([]domain.TrackedEntity, error) {
	return t.doc.listLocked(category), nil
}

func (t *memTx) GetEntity(elementID int64) (domain.TrackedEntity, error) {
	return t.doc.getLocked(elementID)
}

func (t *memTx) ResolveByName(name string) (int64, error) {
	return t.doc.resolveLocked(name)
}

func (t *memTx) SetParameter(elementID int64, name string, value domain.ParameterValue) error {
	entity, ok := t.doc.entities[elementID]
	if !ok {
		return fmt.Errorf("element %d: %w", elementID, ErrEntityNotFound)
	}
	param, ok := entity.Parameters[name]
	if !ok {
		return fmt.Errorf("element %d parameter %q: %w", elementID, name, ErrParameterNotFound)
	}
	if param.ReadOnly {
		return fmt.Errorf("element %d parameter %q: %w", elementID, name, ErrParameterReadOnly)
	}
	if param.Value.Type != value.Type {
		return fmt.Errorf("element %d parameter %q: have %s, got %s: %w",
			elementID, name, param.Value.Type, value.Type, ErrStorageTypeMismatch)
	}
	param.Value = value
	entity.Parameters[name] = param
	t.doc.entities[elementID] = entity
	return nil
}

func (t *memTx) SetTrackID(elementID int64, trackID string) error {
	entity, ok := t.doc.entities[elementID]
	if !ok {
		return fmt.Errorf("element %d: %w", elementID, ErrEntityNotFound)
	}
	entity.TrackID = trackID
	t.doc.entities[elementID] = entity
	return nil
}

func (t *memTx) CreateEntity(spec CreateSpec) (domain.TrackedEntity, error) {
	if !spec.Category.IsSpatial() && spec.Category != domain.CategoryGeneric {
		return domain.TrackedEntity{}, fmt.Errorf("category %q: %w", spec.Category, ErrNotSpatial)
	}

	placed := spec.Position != nil
	if placed && spec.Level != "" {
		if _, err := t.doc.resolveLocked(spec.Level); err != nil {
			// Unknown level: the host creates the element but cannot place it.
			placed = false
		}
	}

	entity := domain.TrackedEntity{
		ElementID:  t.doc.nextID,
		Category:   spec.Category,
		Placed:     placed,
		Parameters: map[string]domain.Parameter{},
	}
	t.doc.nextID++
	if placed {
		pos := *spec.Position
		entity.Position = &pos
	}
	if spec.TypeID != nil {
		entity.TypeParameters = map[string]domain.ParameterValue{
			"TypeID": domain.NewReferenceValue(*spec.TypeID, ""),
		}
	}

	// New elements expose the standard writable identity parameters plus an
	// empty level reference so restores can fill them in.
	entity.Parameters[domain.ParamName] = domain.Parameter{Value: domain.NewStringValue("", "")}
	entity.Parameters[domain.ParamNumber] = domain.Parameter{Value: domain.NewStringValue("", "")}
	entity.Parameters[domain.ParamLevel] = domain.Parameter{Value: domain.NewUnsetReferenceValue()}

	t.doc.entities[entity.ElementID] = entity
	return cloneEntity(entity), nil
}

func (t *memTx) DeleteEntity(elementID int64) error {
	if _, ok := t.doc.entities[elementID]; !ok {
		return fmt.Errorf("element %d: %w", elementID, ErrEntityNotFound)
	}
	delete(t.doc.entities, elementID)
	return nil
}

func (t *memTx) FlipFacing(elementID int64) error {
	entity, ok := t.doc.entities[elementID]
	if !ok {
		return fmt.Errorf("element %d: %w", elementID, ErrEntityNotFound)
	}
	if entity.Facing == nil {
		return fmt.Errorf("element %d: %w", elementID, ErrNoOrientation)
	}
	flipped := domain.Vector3D{X: -entity.Facing.X, Y: -entity.Facing.Y, Z: -entity.Facing.Z}
	entity.Facing = &flipped
	t.doc.entities[elementID] = entity
	return nil
}

func (t *memTx) FlipHand(elementID int64) error {
	entity, ok := t.doc.entities[elementID]
	if !ok {
		return fmt.Errorf("element %d: %w", elementID, ErrEntityNotFound)
	}
	if entity.Hand == nil {
		return fmt.Errorf("element %d: %w", elementID, ErrNoOrientation)
	}
	flipped := domain.Vector3D{X: -entity.Hand.X, Y: -entity.Hand.Y, Z: -entity.Hand.Z}
	entity.Hand = &flipped
	t.doc.entities[elementID] = entity
	return nil
}

func cloneEntity(entity domain.TrackedEntity) domain.TrackedEntity {
	out := entity
	if entity.Position != nil {
		pos := *entity.Position
		out.Position = &pos
	}
	if entity.Facing != nil {
		facing := *entity.Facing
		out.Facing = &facing
	}
	if entity.Hand != nil {
		hand := *entity.Hand
		out.Hand = &hand
	}
	out.Parameters = make(map[string]domain.Parameter, len(entity.Parameters))
	for name, param := range entity.Parameters {
		param.Value = cloneValue(param.Value)
		out.Parameters[name] = param
	}
	if entity.TypeParameters != nil {
		out.TypeParameters = make(map[string]domain.ParameterValue, len(entity.TypeParameters))
		for name, value := range entity.TypeParameters {
			out.TypeParameters[name] = cloneValue(value)
		}
	}
	return out
}

func cloneValue(value domain.ParameterValue) domain.ParameterValue {
	out := value
	if value.Integer != nil {
		n := *value.Integer
		out.Integer = &n
	}
	if value.Double != nil {
		f := *value.Double
		out.Double = &f
	}
	if value.Reference != nil {
		r := *value.Reference
		out.Reference = &r
	}
	return out
}
