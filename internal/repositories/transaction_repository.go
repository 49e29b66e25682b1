package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/enterprise/risk-engine/internal/graph"
	"github.com/enterprise/risk-engine/internal/models"
)

// ErrTransactionNotFound is returned when a lookup by txnId finds no row.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository persists ingested transactions and serves the
// history reads the profile rehydration, backtest replay, and beneficiary
// graph refresh collaborators need. Grounded on the teacher's
// TransactionRepository pgx idiom (batch insert, keyset pagination,
// scanTransactions helper), re-keyed to the new Transaction shape.
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Save persists one ingested transaction, for the ingestion handler's
// audit/idempotency trail.
func (r *TransactionRepository) Save(ctx context.Context, txn models.Transaction) error {
	query := `
		INSERT INTO transactions (txn_id, client_id, txn_type, amount, beneficiary_key, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txn_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query, txn.TxnID, txn.ClientID, txn.TxnType, txn.Amount, txn.BeneficiaryKey, txn.Timestamp)
	return err
}

// SaveBatch persists multiple transactions in one round trip, for the
// ingestion service's batch path (IngestBatch).
func (r *TransactionRepository) SaveBatch(ctx context.Context, txns []models.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO transactions (txn_id, client_id, txn_type, amount, beneficiary_key, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txn_id) DO NOTHING
	`
	for _, txn := range txns {
		batch.Queue(query, txn.TxnID, txn.ClientID, txn.TxnType, txn.Amount, txn.BeneficiaryKey, txn.Timestamp)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range txns {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a single transaction by its txnId.
func (r *TransactionRepository) GetByID(ctx context.Context, txnID string) (*models.Transaction, error) {
	query := `SELECT txn_id, client_id, txn_type, amount, beneficiary_key, ts FROM transactions WHERE txn_id = $1`

	txn := &models.Transaction{}
	err := r.db.Pool.QueryRow(ctx, query, txnID).Scan(&txn.TxnID, &txn.ClientID, &txn.TxnType, &txn.Amount, &txn.BeneficiaryKey, &txn.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return txn, nil
}

// GetByClientID retrieves clientID's transactions in [start,end], ordered by
// timestamp, capped at limit — satisfies scoring.HistoryRepository for
// backtest replay.
func (r *TransactionRepository) GetByClientID(ctx context.Context, clientID string, start, end time.Time, limit int) ([]models.Transaction, error) {
	query := `
		SELECT txn_id, client_id, txn_type, amount, beneficiary_key, ts
		FROM transactions
		WHERE client_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
		LIMIT $4
	`
	rows, err := r.db.Pool.Query(ctx, query, clientID, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// BeneficiariesSeenOnDay lists the distinct beneficiary keys clientID paid on
// dayBucket's calendar day — satisfies profile.TransactionHistoryReader,
// used only to rehydrate the "new beneficiaries today" counter on restart.
func (r *TransactionRepository) BeneficiariesSeenOnDay(ctx context.Context, clientID, dayBucket string) ([]string, error) {
	query := `
		SELECT DISTINCT beneficiary_key
		FROM transactions
		WHERE client_id = $1 AND beneficiary_key <> '' AND floor(extract(epoch from ts) / 86400)::text = $2
	`
	rows, err := r.db.Pool.Query(ctx, query, clientID, dayBucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListClientBeneficiaryPairs returns every distinct (clientId, beneficiaryKey)
// edge ever observed — satisfies graph.TransactionSource, consumed by the
// beneficiary graph's periodic full rebuild (spec.md §4.8).
func (r *TransactionRepository) ListClientBeneficiaryPairs(ctx context.Context) ([]graph.ClientBeneficiaryPair, error) {
	query := `SELECT DISTINCT client_id, beneficiary_key FROM transactions WHERE beneficiary_key <> ''`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []graph.ClientBeneficiaryPair
	for rows.Next() {
		var p graph.ClientBeneficiaryPair
		if err := rows.Scan(&p.ClientID, &p.BeneficiaryKey); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func scanTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.TxnID, &txn.ClientID, &txn.TxnType, &txn.Amount, &txn.BeneficiaryKey, &txn.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}
