package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/enterprise/risk-engine/internal/profile"
)

// ProfileRepository persists per-client behavioral profiles as a single
// JSONB blob keyed by clientId — the profile's many EWMA/Welford maps don't
// map cleanly onto relational columns, so it is stored and reloaded whole,
// the same JSONB-as-payload idiom the teacher uses for audit/risk-score
// metadata. Grounded on the teacher's AccountRepository CRUD/pagination
// shape, re-keyed to Get/Save for profile.Repository.
type ProfileRepository struct {
	db *Database
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *Database) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get implements profile.Repository. Returns profile.ErrNotFound when no row
// exists yet for clientID.
func (r *ProfileRepository) Get(ctx context.Context, clientID string) (*profile.ClientProfile, error) {
	query := `SELECT payload FROM client_profiles WHERE client_id = $1`

	var payload []byte
	err := r.db.Pool.QueryRow(ctx, query, clientID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, err
	}

	p := &profile.ClientProfile{}
	if err := json.Unmarshal(payload, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save implements profile.Repository, upserting the full profile snapshot.
func (r *ProfileRepository) Save(ctx context.Context, p *profile.ClientProfile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO client_profiles (client_id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE SET payload = $2, updated_at = $3
	`
	_, err = r.db.Pool.Exec(ctx, query, p.ClientID, payload, time.Now())
	return err
}
