package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// IdentityStore implements domain.IdentityLookup over the users table, which
// the account service owns.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// NewIdentityStore creates a new IdentityStore backed by the given connection pool.
func NewIdentityStore(pool *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// GetIdentity resolves a subject id.
func (s *IdentityStore) GetIdentity(ctx context.Context, subjectID string) (domain.Identity, error) {
	var id domain.Identity
	var role string

	err := s.pool.QueryRow(ctx,
		`SELECT subject_id, name, role, active FROM users WHERE subject_id = $1`, subjectID,
	).Scan(&id.SubjectID, &id.Name, &role, &id.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, domain.ErrNotFound
		}
		return domain.Identity{}, fmt.Errorf("postgres: get identity %s: %w", subjectID, err)
	}
	id.Role = domain.Role(role)
	return id, nil
}
