package deferred

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/sentinel"
)

// PostgresStore persists deferred credential metadata in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed metadata store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const metadataColumns = `procedure_id, transaction_code, transaction_code_used,
	auth_server_nonce, operation_mode, response_uri, credential_format, vc`

func (s *PostgresStore) Create(ctx context.Context, m Metadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deferred_credential_metadata
			(procedure_id, transaction_code, transaction_code_used, auth_server_nonce,
			 operation_mode, response_uri, credential_format, vc)
		VALUES ($1, $2, false, $3, $4, $5, $6, $7)`,
		m.ProcedureID, m.TransactionCode, nullable(m.AuthServerNonce),
		string(m.OperationMode), nullable(m.ResponseURI), nullable(string(m.CredentialFormat)),
		nullable(m.VC),
	)
	if err != nil {
		return fmt.Errorf("insert deferred metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByTransactionCode(ctx context.Context, transactionCode string) (*Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+`
		FROM deferred_credential_metadata
		WHERE transaction_code = $1`, transactionCode)

	m, used, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction code: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find metadata by transaction code: %w", err)
	}
	if used {
		return nil, fmt.Errorf("transaction code: %w", sentinel.ErrAlreadyUsed)
	}
	return m, nil
}

func (s *PostgresStore) FindByAuthServerNonce(ctx context.Context, nonce string) (*Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+`
		FROM deferred_credential_metadata
		WHERE auth_server_nonce = $1`, nonce)

	m, _, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auth server nonce: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find metadata by nonce: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) FindByProcedureID(ctx context.Context, procedureID uuid.UUID) (*Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+`
		FROM deferred_credential_metadata
		WHERE procedure_id = $1`, procedureID)

	m, _, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("metadata for procedure %s: %w", procedureID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find metadata by procedure: %w", err)
	}
	return m, nil
}

// BindAuthServerNonce is guarded on transaction_code_used so a replayed code
// cannot rebind the nonce.
func (s *PostgresStore) BindAuthServerNonce(ctx context.Context, transactionCode, nonce string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deferred_credential_metadata
		SET auth_server_nonce = $2, transaction_code_used = true
		WHERE transaction_code = $1 AND NOT transaction_code_used`,
		transactionCode, nonce)
	if err != nil {
		return fmt.Errorf("bind auth server nonce: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind auth server nonce rows: %w", err)
	}
	if rows == 0 {
		// Either unknown or already redeemed; disambiguate for the caller.
		var used bool
		err := s.db.QueryRowContext(ctx, `
			SELECT transaction_code_used FROM deferred_credential_metadata
			WHERE transaction_code = $1`, transactionCode).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction code: %w", sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check transaction code: %w", err)
		}
		return fmt.Errorf("transaction code: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *PostgresStore) UpdateFormat(ctx context.Context, procedureID uuid.UUID, format domain.Format) error {
	return s.update(ctx, procedureID, `credential_format`, string(format))
}

func (s *PostgresStore) UpdateVC(ctx context.Context, procedureID uuid.UUID, vc string) error {
	return s.update(ctx, procedureID, `vc`, vc)
}

func (s *PostgresStore) update(ctx context.Context, procedureID uuid.UUID, column, value string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deferred_credential_metadata
		SET `+column+` = $2
		WHERE procedure_id = $1`, procedureID, value)
	if err != nil {
		return fmt.Errorf("update deferred %s: %w", column, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deferred %s rows: %w", column, err)
	}
	if rows == 0 {
		return fmt.Errorf("metadata for procedure %s: %w", procedureID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteByAuthServerNonce(ctx context.Context, nonce string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deferred_credential_metadata
		WHERE auth_server_nonce = $1`, nonce)
	if err != nil {
		return fmt.Errorf("delete deferred metadata: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete deferred metadata rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("auth server nonce: %w", sentinel.ErrNotFound)
	}
	return nil
}

func scanMetadata(row interface{ Scan(...any) error }) (*Metadata, bool, error) {
	var (
		m       Metadata
		used    bool
		nonce   sql.NullString
		respURI sql.NullString
		format  sql.NullString
		vc      sql.NullString
		opMode  string
	)
	err := row.Scan(&m.ProcedureID, &m.TransactionCode, &used, &nonce, &opMode, &respURI, &format, &vc)
	if err != nil {
		return nil, false, err
	}
	m.OperationMode = domain.OperationMode(opMode)
	m.AuthServerNonce = nonce.String
	m.ResponseURI = respURI.String
	m.CredentialFormat = domain.Format(format.String)
	m.VC = vc.String
	return &m, used, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
