package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"togoretrouve/internal/numbering"
	"togoretrouve/internal/platform/postgres"
	"togoretrouve/internal/reclamation/models"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Postgres persists claims in the reclamations and supporting_documents tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const reclamationColumns = `id, numero, declaration_id, claimant_id, status, justification,
	contact_phone, contact_email, agent_id, motif, agent_comment, priority,
	created_at, updated_at, decided_at`

const documentColumns = `id, reclamation_id, kind, description, object_key, content_type,
	size_bytes, verified, verified_by, uploaded_at`

func (s *Postgres) Create(ctx context.Context, r *models.Reclamation) error {
	_, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO reclamations (`+reclamationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.Numero, r.DeclarationID, r.ClaimantID, string(r.Status), r.Justification,
		r.ContactPhone, r.ContactEmail, r.AgentID, r.Motif, r.AgentComment, r.Priority,
		r.CreatedAt, r.UpdatedAt, r.DecidedAt,
	)
	switch {
	case postgres.IsUniqueViolation(err, "reclamations_numero_key"):
		return numbering.ErrCollision
	case postgres.IsUniqueViolation(err, ""):
		return sentinel.ErrConflict
	case err != nil:
		return fmt.Errorf("insert reclamation: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, reclamationID id.ReclamationID) (*models.Reclamation, error) {
	return scanReclamation(postgres.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+reclamationColumns+` FROM reclamations WHERE id = $1`, reclamationID))
}

// Execute locks the row and writes back the mutable claim columns.
func (s *Postgres) Execute(ctx context.Context, reclamationID id.ReclamationID, mutate func(*models.Reclamation) error) (*models.Reclamation, error) {
	var out *models.Reclamation
	err := postgres.InTx(ctx, s.db, func(exec postgres.Executor) error {
		r, err := scanReclamation(exec.QueryRowContext(ctx,
			`SELECT `+reclamationColumns+` FROM reclamations WHERE id = $1 FOR UPDATE`, reclamationID))
		if err != nil {
			return err
		}
		if err := mutate(r); err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, `
			UPDATE reclamations SET status = $2, agent_id = $3, motif = $4, agent_comment = $5,
				priority = $6, updated_at = $7, decided_at = $8
			WHERE id = $1`,
			r.ID, string(r.Status), r.AgentID, r.Motif, r.AgentComment,
			r.Priority, r.UpdatedAt, r.DecidedAt,
		); err != nil {
			return fmt.Errorf("update reclamation: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.Reclamation, error) {
	declarationIDs := make([]string, len(filter.DeclarationIDs))
	for i, v := range filter.DeclarationIDs {
		declarationIDs[i] = v.String()
	}
	statuses := make([]string, len(filter.Statuses))
	for i, v := range filter.Statuses {
		statuses[i] = string(v)
	}
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+reclamationColumns+` FROM reclamations
		WHERE ($1::uuid IS NULL OR claimant_id = $1)
			AND (cardinality($2::uuid[]) = 0 OR declaration_id = ANY($2::uuid[]))
			AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY created_at DESC, numero`,
		filter.ClaimantID, pq.Array(declarationIDs), pq.Array(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("list reclamations: %w", err)
	}
	defer rows.Close()
	var out []*models.Reclamation
	for rows.Next() {
		r, err := scanReclamation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) HasPendingClaims(ctx context.Context, declarationID id.DeclarationID) (bool, error) {
	var pending bool
	err := postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM reclamations
			WHERE declaration_id = $1 AND status IN ('submitted', 'under_review'))`, declarationID,
	).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("check pending claims: %w", err)
	}
	return pending, nil
}

func (s *Postgres) MaxSequence(ctx context.Context, series string) (int64, error) {
	var seq int64
	err := postgres.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substring(numero FROM char_length($1) + 1) AS bigint)), 0)
		FROM reclamations
		WHERE numero LIKE $1 || '%'
		  AND substring(numero FROM char_length($1) + 1) ~ '^[0-9]{6,}$'`, series,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max reclamation sequence: %w", err)
	}
	return seq, nil
}

func (s *Postgres) AddDocument(ctx context.Context, d *models.Document) error {
	_, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO supporting_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.ReclamationID, string(d.Kind), d.Description, d.ObjectKey, d.ContentType,
		d.Size, d.Verified, d.VerifiedBy, d.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Postgres) ListDocuments(ctx context.Context, reclamationID id.ReclamationID) ([]*models.Document, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+documentColumns+` FROM supporting_documents WHERE reclamation_id = $1 ORDER BY uploaded_at, id`,
		reclamationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// VerifyDocument marks a document verified. The conditional update keeps the
// first verifier when two agents race.
func (s *Postgres) VerifyDocument(ctx context.Context, reclamationID id.ReclamationID, documentID id.DocumentID, by id.UserID) (*models.Document, bool, error) {
	exec := postgres.Execer(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE supporting_documents SET verified = TRUE, verified_by = $3
		WHERE id = $1 AND reclamation_id = $2 AND NOT verified`,
		documentID, reclamationID, by)
	if err != nil {
		return nil, false, fmt.Errorf("verify document: %w", err)
	}
	changed, _ := res.RowsAffected()
	d, err := scanDocument(exec.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM supporting_documents WHERE id = $1 AND reclamation_id = $2`,
		documentID, reclamationID))
	if err != nil {
		return nil, false, err
	}
	return d, changed > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReclamation(row scanner) (*models.Reclamation, error) {
	var (
		r         models.Reclamation
		status    string
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.Numero, &r.DeclarationID, &r.ClaimantID, &status, &r.Justification,
		&r.ContactPhone, &r.ContactEmail, &r.AgentID, &r.Motif, &r.AgentComment, &r.Priority,
		&r.CreatedAt, &r.UpdatedAt, &decidedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reclamation: %w", err)
	}
	r.Status = models.Status(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	return &r, nil
}

func scanDocument(row scanner) (*models.Document, error) {
	var (
		d    models.Document
		kind string
	)
	err := row.Scan(&d.ID, &d.ReclamationID, &kind, &d.Description, &d.ObjectKey, &d.ContentType,
		&d.Size, &d.Verified, &d.VerifiedBy, &d.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Kind = models.DocumentKind(kind)
	return &d, nil
}
