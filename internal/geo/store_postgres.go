package geo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"togoretrouve/internal/platform/postgres"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Postgres reads and writes the regions, prefectures and structures tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) UpsertRegion(ctx context.Context, r Region) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO regions (id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`, r.ID, r.Name)
	if err != nil {
		return fmt.Errorf("upsert region: %w", err)
	}
	return nil
}

func (s *Postgres) UpsertPrefecture(ctx context.Context, p Prefecture) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefectures (id, region_id, name) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		p.ID, p.RegionID, p.Name)
	if err != nil {
		return fmt.Errorf("upsert prefecture: %w", err)
	}
	return nil
}

func (s *Postgres) UpsertStructure(ctx context.Context, st Structure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO structures (id, prefecture_id, name, kind, address, phone)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
		st.ID, st.PrefectureID, st.Name, string(st.Kind), st.Address, st.Phone)
	if err != nil {
		return fmt.Errorf("upsert structure: %w", err)
	}
	return nil
}

func (s *Postgres) CreateStructure(ctx context.Context, st *Structure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO structures (id, prefecture_id, name, kind, address, phone)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ID, st.PrefectureID, st.Name, string(st.Kind), st.Address, st.Phone)
	if postgres.IsUniqueViolation(err, "") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert structure: %w", err)
	}
	return nil
}

func (s *Postgres) ListRegions(ctx context.Context) ([]Region, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM regions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()
	var out []Region
	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ListPrefectures(ctx context.Context, regionID id.RegionID) ([]Prefecture, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region_id, name FROM prefectures WHERE region_id = $1 ORDER BY name`, regionID)
	if err != nil {
		return nil, fmt.Errorf("list prefectures: %w", err)
	}
	defer rows.Close()
	var out []Prefecture
	for rows.Next() {
		var p Prefecture
		if err := rows.Scan(&p.ID, &p.RegionID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan prefecture: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) ListStructures(ctx context.Context, prefectureID id.PrefectureID) ([]Structure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prefecture_id, name, kind, address, phone
		FROM structures WHERE prefecture_id = $1 ORDER BY name`, prefectureID)
	if err != nil {
		return nil, fmt.Errorf("list structures: %w", err)
	}
	defer rows.Close()
	var out []Structure
	for rows.Next() {
		st, err := scanStructure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Postgres) GetRegion(ctx context.Context, regionID id.RegionID) (*Region, error) {
	var r Region
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM regions WHERE id = $1`, regionID).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get region: %w", err)
	}
	return &r, nil
}

func (s *Postgres) GetPrefecture(ctx context.Context, prefectureID id.PrefectureID) (*Prefecture, error) {
	var p Prefecture
	err := s.db.QueryRowContext(ctx,
		`SELECT id, region_id, name FROM prefectures WHERE id = $1`, prefectureID).Scan(&p.ID, &p.RegionID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prefecture: %w", err)
	}
	return &p, nil
}

func (s *Postgres) GetStructure(ctx context.Context, structureID id.StructureID) (*Structure, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prefecture_id, name, kind, address, phone
		FROM structures WHERE id = $1`, structureID)
	st, err := scanStructure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return st, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStructure(row rowScanner) (*Structure, error) {
	var st Structure
	var kind string
	if err := row.Scan(&st.ID, &st.PrefectureID, &st.Name, &kind, &st.Address, &st.Phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan structure: %w", err)
	}
	st.Kind = StructureKind(kind)
	return &st, nil
}
