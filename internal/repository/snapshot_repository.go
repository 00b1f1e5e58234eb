package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/engsnap/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository wires a repository backed by pgxpool.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

const recordColumns = `id, project_id, track_id, version_name, category, file_source,
	captured_at, captured_by, official, number, name, level, type_id, placed,
	position, facing, hand, area, parameters, type_parameters`

func (r *snapshotRepository) BulkUpsert(ctx context.Context, records []domain.SnapshotRecord) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("snapshot repository not initialized")
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Official versions are frozen; check each touched version once.
	checked := map[string]struct{}{}
	for _, record := range records {
		key := record.ProjectID.String() + "/" + record.VersionName
		if _, done := checked[key]; done {
			continue
		}
		checked[key] = struct{}{}

		var official pgtype.Bool
		err := tx.QueryRow(ctx,
			`SELECT bool_or(official) FROM snapshot_records
			 WHERE project_id = $1 AND version_name = $2`,
			record.ProjectID, record.VersionName,
		).Scan(&official)
		if err != nil {
			return 0, fmt.Errorf("failed to check version state: %w", err)
		}
		if official.Valid && official.Bool {
			return 0, fmt.Errorf("version %q: %w", record.VersionName, ErrVersionOfficial)
		}
	}

	written := 0
	for i, record := range records {
		trackKey := domain.NormalizeTrackID(record.TrackID)
		if trackKey == "" {
			return 0, fmt.Errorf("record %d: missing track id", i)
		}
		if record.VersionName == "" {
			return 0, fmt.Errorf("record %d: missing version name", i)
		}
		if record.ProjectID == uuid.Nil {
			return 0, fmt.Errorf("record %d: missing project id", i)
		}
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.CapturedAt.IsZero() {
			record.CapturedAt = time.Now().UTC()
		}

		parameters, err := domain.ParametersToJSON(record.Parameters)
		if err != nil {
			return 0, fmt.Errorf("record %d: failed to encode parameters: %w", i, err)
		}
		typeParameters, err := domain.ParametersToJSON(record.TypeParameters)
		if err != nil {
			return 0, fmt.Errorf("record %d: failed to encode type parameters: %w", i, err)
		}
		position, err := marshalGeometry(record.Position)
		if err != nil {
			return 0, fmt.Errorf("record %d: failed to encode position: %w", i, err)
		}
		facing, err := marshalGeometry(record.Facing)
		if err != nil {
			return 0, fmt.Errorf("record %d: failed to encode facing: %w", i, err)
		}
		hand, err := marshalGeometry(record.Hand)
		if err != nil {
			return 0, fmt.Errorf("record %d: failed to encode hand: %w", i, err)
		}

		var typeID any
		if record.TypeID != nil {
			typeID = *record.TypeID
		}
		var area any
		if record.Area != nil {
			area = *record.Area
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO snapshot_records (
				id, project_id, track_id, track_key, version_name, category,
				file_source, captured_at, captured_by, official, number, name,
				level, type_id, placed, position, facing, hand, area,
				parameters, type_parameters
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21
			)
			ON CONFLICT (project_id, version_name, track_key) DO UPDATE SET
				track_id = EXCLUDED.track_id,
				category = EXCLUDED.category,
				file_source = EXCLUDED.file_source,
				captured_at = EXCLUDED.captured_at,
				captured_by = EXCLUDED.captured_by,
				number = EXCLUDED.number,
				name = EXCLUDED.name,
				level = EXCLUDED.level,
				type_id = EXCLUDED.type_id,
				placed = EXCLUDED.placed,
				position = EXCLUDED.position,
				facing = EXCLUDED.facing,
				hand = EXCLUDED.hand,
				area = EXCLUDED.area,
				parameters = EXCLUDED.parameters,
				type_parameters = EXCLUDED.type_parameters`,
			record.ID, record.ProjectID, record.TrackID, trackKey,
			record.VersionName, string(record.Category), record.FileSource,
			record.CapturedAt, record.CapturedBy, record.Official,
			record.Number, record.Name, record.Level, typeID, record.Placed,
			position, facing, hand, area, parameters, typeParameters,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert record %q: %w", record.TrackID, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit bulk upsert: %w", err)
	}
	return written, nil
}

func (r *snapshotRepository) ListByVersion(ctx context.Context, projectID uuid.UUID, versionName string, limit, offset int) ([]domain.SnapshotRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM snapshot_records
		 WHERE project_id = $1 AND version_name = $2
		 ORDER BY track_key, id
		 LIMIT $3 OFFSET $4`,
		projectID, versionName, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list version records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *snapshotRepository) GetAllByVersion(ctx context.Context, projectID uuid.UUID, versionName string) ([]domain.SnapshotRecord, error) {
	const pageSize = 500

	all := []domain.SnapshotRecord{}
	for offset := 0; ; offset += pageSize {
		page, err := r.ListByVersion(ctx, projectID, versionName, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("version %q: %w", versionName, ErrVersionNotFound)
	}
	return all, nil
}

func (r *snapshotRepository) GetLatestByTrackID(ctx context.Context, projectID uuid.UUID, trackID string) (domain.SnapshotRecord, error) {
	if r.pool == nil {
		return domain.SnapshotRecord{}, fmt.Errorf("snapshot repository not initialized")
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+`
		 FROM snapshot_records
		 WHERE project_id = $1 AND track_key = $2
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`,
		projectID, domain.NormalizeTrackID(trackID),
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SnapshotRecord{}, fmt.Errorf("%q: %w", trackID, ErrRecordNotFound)
		}
		return domain.SnapshotRecord{}, fmt.Errorf("failed to load latest record: %w", err)
	}
	return record, nil
}

func (r *snapshotRepository) ListLatestByTrackIDs(ctx context.Context, projectID uuid.UUID, trackIDs []string) ([]domain.SnapshotRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}
	if len(trackIDs) == 0 {
		return []domain.SnapshotRecord{}, nil
	}

	keys := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		if key := domain.NormalizeTrackID(id); key != "" {
			keys = append(keys, key)
		}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (track_key) `+recordColumns+`
		 FROM snapshot_records
		 WHERE project_id = $1 AND track_key = ANY($2)
		 ORDER BY track_key, captured_at DESC, id DESC`,
		projectID, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *snapshotRepository) ListVersions(ctx context.Context, projectID uuid.UUID) ([]domain.VersionInfo, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT version_name,
		        bool_or(official),
		        (ARRAY_AGG(captured_by ORDER BY captured_at DESC))[1],
		        MAX(captured_at),
		        COUNT(*)
		 FROM snapshot_records
		 WHERE project_id = $1
		 GROUP BY version_name
		 ORDER BY MAX(captured_at) DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.VersionInfo{}
	for rows.Next() {
		var (
			info       domain.VersionInfo
			capturedAt pgtype.Timestamptz
			count      int64
		)
		if scanErr := rows.Scan(&info.Name, &info.Official, &info.CapturedBy, &capturedAt, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan version: %w", scanErr)
		}
		if capturedAt.Valid {
			info.CapturedAt = capturedAt.Time
		}
		info.RecordCount = int(count)
		versions = append(versions, info)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", rowsErr)
	}
	return versions, nil
}

func (r *snapshotRepository) DeleteDraftVersion(ctx context.Context, projectID uuid.UUID, versionName string) error {
	if r.pool == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}

	if err := r.requireDraft(ctx, projectID, versionName); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`DELETE FROM snapshot_records WHERE project_id = $1 AND version_name = $2`,
		projectID, versionName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete version %q: %w", versionName, err)
	}
	return nil
}

func (r *snapshotRepository) RenameDraftVersion(ctx context.Context, projectID uuid.UUID, oldName, newName string) error {
	if r.pool == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}
	if newName == "" {
		return fmt.Errorf("new version name must not be empty")
	}

	if err := r.requireDraft(ctx, projectID, oldName); err != nil {
		return err
	}

	var taken bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM snapshot_records WHERE project_id = $1 AND version_name = $2
		 )`,
		projectID, newName,
	).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check target name: %w", err)
	}
	if taken {
		return fmt.Errorf("version %q: %w", newName, ErrVersionExists)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE snapshot_records SET version_name = $3
		 WHERE project_id = $1 AND version_name = $2`,
		projectID, oldName, newName,
	)
	if err != nil {
		return fmt.Errorf("failed to rename version %q: %w", oldName, err)
	}
	return nil
}

func (r *snapshotRepository) MarkOfficial(ctx context.Context, projectID uuid.UUID, versionName string) error {
	if r.pool == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE snapshot_records SET official = TRUE
		 WHERE project_id = $1 AND version_name = $2`,
		projectID, versionName,
	)
	if err != nil {
		return fmt.Errorf("failed to mark version %q official: %w", versionName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("version %q: %w", versionName, ErrVersionNotFound)
	}
	return nil
}

// requireDraft fails with ErrVersionNotFound or ErrVersionOfficial unless
// the version exists as a draft.
func (r *snapshotRepository) requireDraft(ctx context.Context, projectID uuid.UUID, versionName string) error {
	var official pgtype.Bool
	err := r.pool.QueryRow(ctx,
		`SELECT bool_or(official) FROM snapshot_records
		 WHERE project_id = $1 AND version_name = $2`,
		projectID, versionName,
	).Scan(&official)
	if err != nil {
		return fmt.Errorf("failed to check version state: %w", err)
	}
	if !official.Valid {
		return fmt.Errorf("version %q: %w", versionName, ErrVersionNotFound)
	}
	if official.Bool {
		return fmt.Errorf("version %q: %w", versionName, ErrVersionOfficial)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.SnapshotRecord, error) {
	var (
		record         domain.SnapshotRecord
		category       string
		capturedAt     pgtype.Timestamptz
		typeID         pgtype.Int8
		area           pgtype.Float8
		position       []byte
		facing         []byte
		hand           []byte
		parameters     []byte
		typeParameters []byte
	)
	if err := row.Scan(
		&record.ID, &record.ProjectID, &record.TrackID, &record.VersionName,
		&category, &record.FileSource, &capturedAt, &record.CapturedBy,
		&record.Official, &record.Number, &record.Name, &record.Level,
		&typeID, &record.Placed, &position, &facing, &hand, &area,
		&parameters, &typeParameters,
	); err != nil {
		return domain.SnapshotRecord{}, err
	}

	record.Category = domain.Category(category)
	if capturedAt.Valid {
		record.CapturedAt = capturedAt.Time
	}
	if typeID.Valid {
		value := typeID.Int64
		record.TypeID = &value
	}
	if area.Valid {
		value := area.Float64
		record.Area = &value
	}

	var err error
	if record.Position, err = unmarshalPoint(position); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to decode position: %w", err)
	}
	if record.Facing, err = unmarshalVector(facing); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to decode facing: %w", err)
	}
	if record.Hand, err = unmarshalVector(hand); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to decode hand: %w", err)
	}
	if record.Parameters, err = domain.ParametersFromJSON(parameters); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if record.TypeParameters, err = domain.ParametersFromJSON(typeParameters); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to decode type parameters: %w", err)
	}
	return record, nil
}

func collectRecords(rows pgx.Rows) ([]domain.SnapshotRecord, error) {
	records := []domain.SnapshotRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", rowsErr)
	}
	return records, nil
}

func marshalGeometry(value any) ([]byte, error) {
	switch typed := value.(type) {
	case *domain.Point3D:
		if typed == nil {
			return nil, nil
		}
	case *domain.Vector3D:
		if typed == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return json.Marshal(value)
}

func unmarshalPoint(data []byte) (*domain.Point3D, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var point domain.Point3D
	if err := json.Unmarshal(data, &point); err != nil {
		return nil, err
	}
	return &point, nil
}

func unmarshalVector(data []byte) (*domain.Vector3D, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vector domain.Vector3D
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, err
	}
	return &vector, nil
}
