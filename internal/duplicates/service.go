// Package duplicates finds live elements sharing one tracked identifier and
// decides which member keeps it. Copy-paste workflows in the host duplicate
// the identifier along with the element, so every scan has to pick a
// canonical owner and propose fresh identifiers for the rest.
package duplicates

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/engsnap/internal/domain"
)

// ErrNoRecord is returned by a RecordSource when an identifier has never
// been captured.
var ErrNoRecord = errors.New("no snapshot record for identifier")

// RecordSource provides the latest captured record for one identifier.
// Implementations may batch under the hood; failures are isolated to the
// group being resolved.
type RecordSource interface {
	LatestByTrackID(ctx context.Context, projectID uuid.UUID, trackID string) (domain.SnapshotRecord, error)
}

// DefaultNameFields is the ordered list of name-like parameters consulted
// when picking a canonical member. Projects captured with localized hosts
// carry the name under different parameter names.
var DefaultNameFields = []string{domain.ParamName, "Raumname", "Room Name"}

// Service scans for duplicate identifiers.
type Service struct {
	source     RecordSource
	nameFields []string
	workers    int
	logger     *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithNameFields overrides the ordered name-field candidates.
func WithNameFields(fields []string) Option {
	return func(s *Service) {
		if len(fields) > 0 {
			s.nameFields = fields
		}
	}
}

// WithWorkers bounds concurrent record lookups.
func WithWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithLogger attaches a logger for downgraded lookup failures.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a scanner. A nil source is allowed; without records
// every group resolves by ordinal fallback.
func NewService(source RecordSource, opts ...Option) *Service {
	s := &Service{
		source:     source,
		nameFields: DefaultNameFields,
		workers:    4,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect groups live entities by identifier and resolves every group with
// more than one member. Groups are returned ordered by identifier, members
// by element id; resolution is deterministic for a given input.
func (s *Service) Detect(ctx context.Context, projectID uuid.UUID, entities []domain.TrackedEntity) ([]domain.DuplicateGroup, error) {
	grouped := map[string][]domain.TrackedEntity{}
	for _, entity := range entities {
		key := domain.NormalizeTrackID(entity.TrackID)
		if key == "" {
			continue
		}
		grouped[key] = append(grouped[key], entity)
	}

	keys := make([]string, 0, len(grouped))
	for key, members := range grouped {
		if len(members) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil, nil
	}

	// Fetch the latest record per group up front; a failed lookup downgrades
	// that one group to the ordinal rule instead of failing the scan.
	records := make([]*domain.SnapshotRecord, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if s.source == nil {
				return nil
			}
			record, err := s.source.LatestByTrackID(gctx, projectID, grouped[key][0].TrackID)
			if err != nil {
				if !errors.Is(err, ErrNoRecord) {
					s.logger.Warnw("duplicate scan: record lookup failed, falling back to ordinal pick",
						"track_id", grouped[key][0].TrackID, "error", err)
				}
				return nil
			}
			records[i] = &record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Collect every live identifier once so regenerated ids cannot collide
	// with anything already in the model.
	existing := map[string]struct{}{}
	for key := range grouped {
		existing[key] = struct{}{}
	}

	groups := make([]domain.DuplicateGroup, 0, len(keys))
	for i, key := range keys {
		members := grouped[key]
		sort.Slice(members, func(a, b int) bool { return members[a].ElementID < members[b].ElementID })

		canonical, rationale := s.pickCanonical(members, records[i])
		prefix := identifierPrefix(members[0].TrackID, members[0].Category)

		group := domain.DuplicateGroup{
			TrackID:            members[0].TrackID,
			CanonicalElementID: canonical,
			Rationale:          rationale,
		}
		for _, member := range members {
			entry := domain.DuplicateMember{
				ElementID: member.ElementID,
				Name:      stringParam(member, domain.ParamName),
				Number:    stringParam(member, domain.ParamNumber),
				Action:    domain.ActionRegenerate,
			}
			if member.ElementID == canonical {
				entry.Action = domain.ActionKeep
			} else {
				entry.NewTrackID = NextTrackID(existing, prefix)
				existing[domain.NormalizeTrackID(entry.NewTrackID)] = struct{}{}
			}
			group.Members = append(group.Members, entry)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// pickCanonical applies the resolution rules in order: number match against
// the latest record, then the configured name fields, then lowest element
// id. A rule only decides when exactly one member matches.
func (s *Service) pickCanonical(members []domain.TrackedEntity, record *domain.SnapshotRecord) (int64, string) {
	if record != nil {
		if number := strings.TrimSpace(record.Number); number != "" {
			if id, ok := uniqueMatch(members, domain.ParamNumber, number); ok {
				return id, domain.RationaleNumberMatch
			}
		}
		for _, field := range s.nameFields {
			recorded := strings.TrimSpace(recordString(*record, field))
			if recorded == "" {
				continue
			}
			if id, ok := uniqueMatch(members, field, recorded); ok {
				return id, domain.RationaleNameMatch
			}
		}
	}
	return members[0].ElementID, domain.RationaleOrdinalFallback
}

func uniqueMatch(members []domain.TrackedEntity, field, want string) (int64, bool) {
	var found int64
	matches := 0
	for _, member := range members {
		if strings.TrimSpace(stringParam(member, field)) == want {
			found = member.ElementID
			matches++
		}
	}
	return found, matches == 1
}

func stringParam(entity domain.TrackedEntity, name string) string {
	value, ok := entity.LookupValue(name)
	if !ok {
		return ""
	}
	return value.Text
}

func recordString(record domain.SnapshotRecord, field string) string {
	switch field {
	case domain.ParamName:
		return record.Name
	case domain.ParamNumber:
		return record.Number
	default:
		if value, ok := record.Parameters[field]; ok {
			return value.Text
		}
		return ""
	}
}

var trackIDPattern = regexp.MustCompile(`^(.*)-(\d+)$`)

// identifierPrefix derives the prefix for regenerated identifiers from the
// duplicated identifier itself, falling back to a category default when the
// identifier does not follow the PREFIX-NNNN shape.
func identifierPrefix(trackID string, category domain.Category) string {
	if m := trackIDPattern.FindStringSubmatch(strings.TrimSpace(trackID)); m != nil && m[1] != "" {
		return m[1]
	}
	switch category {
	case domain.CategoryRoom:
		return "ROOM"
	case domain.CategoryOpening:
		return "OPEN"
	default:
		return "ELEM"
	}
}

// NextTrackID returns the next free identifier of the form PREFIX-NNNN.
// The numeric part continues from the highest suffix already in use, so
// holes left by deletions are never reused; hand-edited identifiers that
// happen to collide are stepped over.
func NextTrackID(existing map[string]struct{}, prefix string) string {
	foldedPrefix := domain.NormalizeTrackID(prefix) + "-"
	highest := int64(0)
	for id := range existing {
		if !strings.HasPrefix(id, foldedPrefix) {
			continue
		}
		n, err := strconv.ParseInt(id[len(foldedPrefix):], 10, 64)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	for {
		highest++
		candidate := fmt.Sprintf("%s-%04d", prefix, highest)
		if _, taken := existing[domain.NormalizeTrackID(candidate)]; !taken {
			return candidate
		}
	}
}
