package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	insertArtifactSQL = `
INSERT INTO audit_artifacts (key, request_id, artifact, body)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO NOTHING`

	selectArtifactSQL = `SELECT body FROM audit_artifacts WHERE key = $1`
)

type pgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

// PostgresStore writes artifacts into the audit_artifacts table.
type PostgresStore struct {
	conn pgxConn
}

func NewPostgresStore(conn pgxConn) *PostgresStore {
	return &PostgresStore{conn: conn}
}

func (p *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	requestID, artifact, err := SplitKey(key)
	if err != nil {
		return err
	}
	tag, err := p.conn.Exec(ctx, insertArtifactSQL, key, requestID, string(artifact), data)
	if err != nil {
		return fmt.Errorf("failed to insert artifact %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrArtifactExists
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	if err := p.conn.QueryRow(ctx, selectArtifactSQL, key).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return body, nil
}
