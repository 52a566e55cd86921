package procedure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/sentinel"
)

// PostgresStore persists procedures in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed procedure store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const procedureColumns = `id, organization_identifier, credential_type, credential_decoded,
	operation_mode, signature_mode, subject, valid_until, status, updated_at`

func (s *PostgresStore) Create(ctx context.Context, req CreationRequest) (*Procedure, error) {
	p := &Procedure{
		ID:                     uuid.New(),
		OrganizationIdentifier: req.OrganizationIdentifier,
		CredentialType:         req.CredentialType,
		CredentialDecoded:      req.CredentialDecoded,
		OperationMode:          req.OperationMode,
		SignatureMode:          req.SignatureMode,
		Subject:                req.Subject,
		ValidUntil:             req.ValidUntil,
		Status:                 domain.StatusDraft,
		UpdatedAt:              time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_procedures (`+procedureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OrganizationIdentifier, string(p.CredentialType), []byte(p.CredentialDecoded),
		string(p.OperationMode), string(p.SignatureMode), p.Subject, p.ValidUntil,
		string(p.Status), p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert procedure: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+procedureColumns+`
		FROM credential_procedures
		WHERE id = $1`, id)

	p, err := scanProcedure(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("procedure %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find procedure by id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByCredentialID(ctx context.Context, credentialID string) (*Procedure, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+procedureColumns+`
		FROM credential_procedures
		WHERE credential_decoded->>'id' = $1`, credentialID)

	p, err := scanProcedure(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("procedure for credential %q: %w", credentialID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find procedure by credential id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateCredential(ctx context.Context, id uuid.UUID, decoded json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credential_procedures
		SET credential_decoded = $2, updated_at = now()
		WHERE id = $1`, id, []byte(decoded))
	if err != nil {
		return fmt.Errorf("update procedure credential: %w", err)
	}
	return requireRow(res, id)
}

// UpdateStatus advances the procedure status. The legality check runs inside
// the UPDATE so concurrent writers cannot race a regression past it.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProcedureStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM credential_procedures WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("procedure %s: %w", id, sentinel.ErrNotFound)
		}
		return fmt.Errorf("lock procedure status: %w", err)
	}

	if !domain.CanTransition(domain.ProcedureStatus(current), status) {
		return fmt.Errorf("procedure %s %s -> %s: %w", id, current, status, sentinel.ErrStatusRegression)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE credential_procedures
		SET status = $2, updated_at = now()
		WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update procedure status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByOrganization(ctx context.Context, organizationIdentifier string) ([]*Procedure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+procedureColumns+`
		FROM credential_procedures
		WHERE organization_identifier = $1
		ORDER BY updated_at DESC`, organizationIdentifier)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var out []*Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan procedure: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcedure(row rowScanner) (*Procedure, error) {
	var (
		p          Procedure
		credType   string
		decoded    []byte
		opMode     string
		sigMode    string
		status     string
		validUntil sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OrganizationIdentifier, &credType, &decoded,
		&opMode, &sigMode, &p.Subject, &validUntil, &status, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CredentialType = domain.CredentialType(credType)
	p.CredentialDecoded = json.RawMessage(decoded)
	p.OperationMode = domain.OperationMode(opMode)
	p.SignatureMode = domain.SignatureMode(sigMode)
	p.Status = domain.ProcedureStatus(status)
	if validUntil.Valid {
		p.ValidUntil = validUntil.Time
	}
	return &p, nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("procedure %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}
