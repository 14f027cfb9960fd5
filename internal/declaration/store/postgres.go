package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"togoretrouve/internal/declaration/models"
	"togoretrouve/internal/numbering"
	"togoretrouve/internal/platform/postgres"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Postgres persists declarations in the declarations table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const declarationColumns = `id, numero, kind, status, object_name, description, category, photo_key,
	structure_id, incident_date, incident_place, latitude, longitude, h3_index, declarant_id, agent_id,
	declarant_comment, agent_comment, priority, public, view_count, created_at, updated_at,
	published_at, restituted_at`

// Create inserts d. A violation of declarations_numero_key yields numbering.ErrCollision.
func (s *Postgres) Create(ctx context.Context, d *models.Declaration) error {
	lat, lng, cell := locationArgs(d.Location)
	_, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO declarations (`+declarationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		d.ID, d.Numero, string(d.Kind), string(d.Status), d.ObjectName, d.Description, d.Category, d.PhotoKey,
		d.StructureID, d.IncidentDate, d.IncidentPlace, lat, lng, cell, d.DeclarantID, d.AgentID,
		d.DeclarantComment, d.AgentComment, string(d.Priority), d.Public, d.ViewCount, d.CreatedAt, d.UpdatedAt,
		d.PublishedAt, d.RestitutedAt,
	)
	if postgres.IsUniqueViolation(err, "declarations_numero_key") {
		return numbering.ErrCollision
	}
	if postgres.IsUniqueViolation(err, "") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert declaration: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	row := postgres.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+declarationColumns+` FROM declarations WHERE id = $1`, declarationID)
	return scanDeclaration(row)
}

// FindForShare reads the row with SELECT ... FOR SHARE on the transaction
// carried by ctx, so no concurrent Execute can change its status until that
// transaction ends.
func (s *Postgres) FindForShare(ctx context.Context, declarationID id.DeclarationID) (*models.Declaration, error) {
	row := postgres.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+declarationColumns+` FROM declarations WHERE id = $1 FOR SHARE`, declarationID)
	return scanDeclaration(row)
}

// Execute locks the row with SELECT ... FOR UPDATE and writes back the mutated
// declaration. The numero and declarant are never rewritten.
func (s *Postgres) Execute(ctx context.Context, declarationID id.DeclarationID, validate func(*models.Declaration) error, mutate func(*models.Declaration) error) (*models.Declaration, error) {
	var out *models.Declaration
	err := postgres.InTx(ctx, s.db, func(exec postgres.Executor) error {
		d, err := scanDeclaration(exec.QueryRowContext(ctx,
			`SELECT `+declarationColumns+` FROM declarations WHERE id = $1 FOR UPDATE`, declarationID))
		if err != nil {
			return err
		}
		if err := validate(d); err != nil {
			return err
		}
		if err := mutate(d); err != nil {
			return err
		}

		lat, lng, cell := locationArgs(d.Location)
		if _, err := exec.ExecContext(ctx, `
			UPDATE declarations SET kind = $2, status = $3, object_name = $4, description = $5,
				category = $6, photo_key = $7, structure_id = $8, incident_date = $9,
				incident_place = $10, latitude = $11, longitude = $12, h3_index = $13,
				agent_id = $14, declarant_comment = $15, agent_comment = $16, priority = $17,
				public = $18, updated_at = $19, published_at = $20, restituted_at = $21
			WHERE id = $1`,
			d.ID, string(d.Kind), string(d.Status), d.ObjectName, d.Description,
			d.Category, d.PhotoKey, d.StructureID, d.IncidentDate,
			d.IncidentPlace, lat, lng, cell,
			d.AgentID, d.DeclarantComment, d.AgentComment, string(d.Priority),
			d.Public, d.UpdatedAt, d.PublishedAt, d.RestitutedAt,
		); err != nil {
			return fmt.Errorf("update declaration: %w", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a declaration while validate accepts the locked row.
func (s *Postgres) Delete(ctx context.Context, declarationID id.DeclarationID, validate func(*models.Declaration) error) error {
	return postgres.InTx(ctx, s.db, func(exec postgres.Executor) error {
		d, err := scanDeclaration(exec.QueryRowContext(ctx,
			`SELECT `+declarationColumns+` FROM declarations WHERE id = $1 FOR UPDATE`, declarationID))
		if err != nil {
			return err
		}
		if err := validate(d); err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM declarations WHERE id = $1`, declarationID); err != nil {
			return fmt.Errorf("delete declaration: %w", err)
		}
		return nil
	})
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.Declaration, int, error) {
	structureIDs := make([]string, len(filter.StructureIDs))
	for i, v := range filter.StructureIDs {
		structureIDs[i] = v.String()
	}
	statuses := make([]string, len(filter.Statuses))
	for i, v := range filter.Statuses {
		statuses[i] = string(v)
	}
	limit := sql.NullInt64{Int64: int64(filter.Limit), Valid: filter.Limit > 0}

	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+declarationColumns+`, count(*) OVER () FROM declarations
		WHERE ($1::uuid IS NULL OR declarant_id = $1)
			AND (cardinality($2::uuid[]) = 0 OR structure_id = ANY($2::uuid[]))
			AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
			AND ($4 = '' OR kind = $4)
			AND ($5 = '' OR category = $5)
			AND (NOT $6 OR public)
			AND (NOT $7 OR latitude IS NOT NULL)
			AND ($8 = '' OR numero || ' ' || object_name || ' ' || description || ' ' || incident_place ILIKE '%' || $8 || '%')
		ORDER BY created_at DESC, numero
		LIMIT $9 OFFSET $10`,
		filter.DeclarantID, pq.Array(structureIDs), pq.Array(statuses), string(filter.Kind),
		filter.Category, filter.PublicOnly, filter.Located, filter.Query, limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list declarations: %w", err)
	}
	defer rows.Close()

	var (
		out   []*models.Declaration
		total int
	)
	for rows.Next() {
		d, err := scanDeclaration(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate declarations: %w", err)
	}
	if len(out) == 0 && filter.Offset > 0 {
		// The window count is only visible on returned rows.
		if err := postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
			SELECT count(*) FROM declarations
			WHERE ($1::uuid IS NULL OR declarant_id = $1)
				AND (cardinality($2::uuid[]) = 0 OR structure_id = ANY($2::uuid[]))
				AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
				AND ($4 = '' OR kind = $4)
				AND ($5 = '' OR category = $5)
				AND (NOT $6 OR public)
				AND (NOT $7 OR latitude IS NOT NULL)
				AND ($8 = '' OR numero || ' ' || object_name || ' ' || description || ' ' || incident_place ILIKE '%' || $8 || '%')`,
			filter.DeclarantID, pq.Array(structureIDs), pq.Array(statuses), string(filter.Kind),
			filter.Category, filter.PublicOnly, filter.Located, filter.Query,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count declarations: %w", err)
		}
	}
	return out, total, nil
}

// MaxSequence returns the highest sequence already used in series, compared
// numerically so sequences wider than the padding still count.
func (s *Postgres) MaxSequence(ctx context.Context, series string) (int64, error) {
	var seq int64
	err := postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substring(numero FROM char_length($1) + 1) AS bigint)), 0)
		FROM declarations
		WHERE numero LIKE $1 || '%'
		  AND substring(numero FROM char_length($1) + 1) ~ '^[0-9]{6,}$'`, series,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max declaration sequence: %w", err)
	}
	return seq, nil
}

func (s *Postgres) IncrementViews(ctx context.Context, declarationID id.DeclarationID) error {
	res, err := postgres.Execer(ctx, s.db).ExecContext(ctx,
		`UPDATE declarations SET view_count = view_count + 1 WHERE id = $1`, declarationID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) CountByStructureStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx,
		`SELECT structure_id, status, count(*) FROM declarations GROUP BY structure_id, status`)
	if err != nil {
		return nil, fmt.Errorf("count declarations: %w", err)
	}
	defer rows.Close()
	var out []StatusCount
	for rows.Next() {
		var (
			c      StatusCount
			status string
		)
		if err := rows.Scan(&c.StructureID, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.Status = models.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) AddComment(ctx context.Context, c *models.Comment) error {
	_, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO declaration_comments (id, declaration_id, author_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.DeclarationID, c.AuthorName, c.Body, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *Postgres) ListComments(ctx context.Context, declarationID id.DeclarationID) ([]*models.Comment, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT id, declaration_id, author_name, body, created_at FROM declaration_comments
		WHERE declaration_id = $1 ORDER BY created_at, id`, declarationID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	var out []*models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.DeclarationID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func locationArgs(loc *models.Location) (sql.NullFloat64, sql.NullFloat64, string) {
	if loc == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}, ""
	}
	return sql.NullFloat64{Float64: loc.Latitude, Valid: true},
		sql.NullFloat64{Float64: loc.Longitude, Valid: true},
		loc.H3Index
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeclaration(row scanner, extra ...any) (*models.Declaration, error) {
	var (
		d                            models.Declaration
		kind, status, priority, cell string
		lat, lng                     sql.NullFloat64
		incidentDate                 time.Time
		publishedAt, restitutedAt    sql.NullTime
	)
	dest := []any{
		&d.ID, &d.Numero, &kind, &status, &d.ObjectName, &d.Description, &d.Category, &d.PhotoKey,
		&d.StructureID, &incidentDate, &d.IncidentPlace, &lat, &lng, &cell, &d.DeclarantID, &d.AgentID,
		&d.DeclarantComment, &d.AgentComment, &priority, &d.Public, &d.ViewCount, &d.CreatedAt, &d.UpdatedAt,
		&publishedAt, &restitutedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan declaration: %w", err)
	}
	d.Kind = models.Kind(kind)
	d.Status = models.Status(status)
	d.Priority = models.Priority(priority)
	d.IncidentDate = incidentDate.UTC()
	if lat.Valid && lng.Valid {
		d.Location = &models.Location{Latitude: lat.Float64, Longitude: lng.Float64, H3Index: cell}
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		d.PublishedAt = &t
	}
	if restitutedAt.Valid {
		t := restitutedAt.Time
		d.RestitutedAt = &t
	}
	return &d, nil
}
