package ingestion

import "testing"

func newValidatorService(allowedTypes ...string) *Service {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	return &Service{allowedTypes: allowed}
}

func TestValidate_RequiresClientID(t *testing.T) {
	s := newValidatorService("NEFT")
	err := s.validate(TransactionRequest{TxnType: "NEFT", Amount: 100})
	if err == nil {
		t.Fatal("expected an error for a missing client_id")
	}
}

func TestValidate_RequiresPositiveAmount(t *testing.T) {
	s := newValidatorService("NEFT")
	err := s.validate(TransactionRequest{ClientID: "c1", TxnType: "NEFT", Amount: 0})
	if err == nil {
		t.Fatal("expected an error for a non-positive amount")
	}
}

func TestValidate_RejectsUnlistedTxnType(t *testing.T) {
	s := newValidatorService("NEFT", "RTGS")
	err := s.validate(TransactionRequest{ClientID: "c1", TxnType: "WIRE", Amount: 100})
	if err == nil {
		t.Fatal("expected an error for a txn_type outside the configured whitelist")
	}
}

func TestValidate_AcceptsWellFormedRequest(t *testing.T) {
	s := newValidatorService("NEFT", "RTGS")
	err := s.validate(TransactionRequest{ClientID: "c1", TxnType: "RTGS", Amount: 250.50, BeneficiaryKey: "bene-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
