// Package ingestion validates incoming transaction requests and hands them
// off to the Redis stream ingress, ahead of the async scoring pipeline
// (spec.md §5). Grounded on the teacher's internal/ingestion/handler.go
// (idempotency check, persist-then-publish, audit trail), re-keyed to the
// new clientId/txnType/beneficiaryKey shape — no account entity survives in
// the new domain model, so the account-active check is replaced by a
// txnType whitelist check against config.RiskConfig.TransactionTypes.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/queue"
	"github.com/enterprise/risk-engine/internal/repositories"
)

// TransactionRequest is the wire shape of a single inbound transaction.
type TransactionRequest struct {
	ClientID       string  `json:"client_id" binding:"required"`
	TxnType        string  `json:"txn_type" binding:"required"`
	Amount         float64 `json:"amount" binding:"required,gt=0"`
	BeneficiaryKey string  `json:"beneficiary_key,omitempty"`
}

// BatchTransactionRequest is a bounded batch of inbound transactions.
type BatchTransactionRequest struct {
	Transactions []TransactionRequest `json:"transactions" binding:"required,min=1,max=1000"`
}

// TransactionResponse is returned after a single transaction is accepted.
type TransactionResponse struct {
	TxnID     string    `json:"txn_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message,omitempty"`
}

// BatchTransactionResponse summarizes a batch ingestion.
type BatchTransactionResponse struct {
	Successful int                   `json:"successful"`
	Failed     int                   `json:"failed"`
	Results    []TransactionResponse `json:"results"`
}

// Service validates and admits transactions into the async pipeline.
type Service struct {
	txRepo       *repositories.TransactionRepository
	streamClient *queue.RedisStreamClient
	allowedTypes map[string]struct{}
}

// NewService creates a new ingestion service, indexing the configured
// txnType whitelist once at construction.
func NewService(txRepo *repositories.TransactionRepository, streamClient *queue.RedisStreamClient, risk config.RiskConfig) *Service {
	allowed := make(map[string]struct{}, len(risk.TransactionTypes))
	for _, t := range risk.TransactionTypes {
		allowed[t] = struct{}{}
	}
	return &Service{txRepo: txRepo, streamClient: streamClient, allowedTypes: allowed}
}

func (s *Service) validate(req TransactionRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if _, ok := s.allowedTypes[req.TxnType]; !ok {
		return fmt.Errorf("unsupported txn_type: %s", req.TxnType)
	}
	return nil
}

// IngestTransaction validates, persists, and publishes one transaction.
// Publish failures are logged but not fatal: the transaction stays
// persisted, and it is not republished to the stream.
func (s *Service) IngestTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	start := time.Now()

	if err := s.validate(*req); err != nil {
		return nil, err
	}

	txn := models.Transaction{
		TxnID:          uuid.NewString(),
		ClientID:       req.ClientID,
		TxnType:        req.TxnType,
		Amount:         req.Amount,
		Timestamp:      time.Now(),
		BeneficiaryKey: req.BeneficiaryKey,
	}

	if err := s.txRepo.Save(ctx, txn); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	if _, err := s.streamClient.Publish(ctx, txn); err != nil {
		log.Error().Err(err).Str("txn_id", txn.TxnID).Msg("failed to publish transaction to stream")
	}

	log.Info().
		Str("txn_id", txn.TxnID).
		Str("client_id", txn.ClientID).
		Float64("amount", txn.Amount).
		Dur("processing_time", time.Since(start)).
		Msg("transaction ingested")

	return &TransactionResponse{TxnID: txn.TxnID, Status: "accepted", CreatedAt: txn.Timestamp}, nil
}

// IngestBatch validates and admits a bounded batch of transactions. Invalid
// requests are rejected individually without failing the whole batch; valid
// ones are persisted and published together.
func (s *Service) IngestBatch(ctx context.Context, req *BatchTransactionRequest) (*BatchTransactionResponse, error) {
	start := time.Now()
	resp := &BatchTransactionResponse{Results: make([]TransactionResponse, 0, len(req.Transactions))}

	var accepted []models.Transaction
	for _, txReq := range req.Transactions {
		if err := s.validate(txReq); err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, TransactionResponse{Status: "rejected", Message: err.Error()})
			continue
		}
		accepted = append(accepted, models.Transaction{
			TxnID:          uuid.NewString(),
			ClientID:       txReq.ClientID,
			TxnType:        txReq.TxnType,
			Amount:         txReq.Amount,
			Timestamp:      time.Now(),
			BeneficiaryKey: txReq.BeneficiaryKey,
		})
	}

	if len(accepted) > 0 {
		if err := s.txRepo.SaveBatch(ctx, accepted); err != nil {
			log.Error().Err(err).Msg("failed to batch insert transactions")
			for range accepted {
				resp.Failed++
				resp.Results = append(resp.Results, TransactionResponse{Status: "rejected", Message: "batch insert failed"})
			}
		} else {
			for _, txn := range accepted {
				if _, err := s.streamClient.Publish(ctx, txn); err != nil {
					log.Error().Err(err).Str("txn_id", txn.TxnID).Msg("failed to publish batched transaction")
				}
				resp.Successful++
				resp.Results = append(resp.Results, TransactionResponse{TxnID: txn.TxnID, Status: "accepted", CreatedAt: txn.Timestamp})
			}
		}
	}

	log.Info().
		Int("total", len(req.Transactions)).
		Int("successful", resp.Successful).
		Int("failed", resp.Failed).
		Dur("processing_time", time.Since(start)).
		Msg("batch ingestion completed")

	return resp, nil
}

// GetTransaction retrieves a previously ingested transaction by id.
func (s *Service) GetTransaction(ctx context.Context, txnID string) (*models.Transaction, error) {
	return s.txRepo.GetByID(ctx, txnID)
}
