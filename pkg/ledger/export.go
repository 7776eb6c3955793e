package ledger

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"github.com/compliantcore/platform/pkg/canonicalize"
)

// csvColumns is the frozen export column order. Changing it is a breaking
// change for any downstream consumer that parses the export by position.
var csvColumns = []string{
	"id", "tenant_id", "event_type", "created_at", "content_hash",
	"previous_hash", "chain_hash", "user_id", "correlation_id", "description",
}

// Service wraps a Store with the higher-level operations (verify, export)
// that are pure functions of the raw chain and don't belong on Store itself.
type Service struct {
	store Store
}

// NewService constructs a Service over the given Store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Append delegates to the underlying Store.
func (s *Service) Append(req AppendRequest) (*AppendResult, error) {
	return s.store.Append(req)
}

// Query delegates to the underlying Store.
func (s *Service) Query(p Page) (*PageResult, error) {
	return s.store.Query(p)
}

// Verify walks a tenant's chain in creation order and confirms that every
// event's content_hash matches its event_data, every event's previous_hash
// matches the prior event's chain_hash (or Genesis for the first), and every
// event's chain_hash matches sha256(content_hash + previous_hash).
func (s *Service) Verify(tenantID string) (*VerifyResult, error) {
	events, err := s.store.AllForVerify(tenantID)
	if err != nil {
		return nil, err
	}

	prevHash := Genesis
	for i, ev := range events {
		wantContentHash, err := canonicalize.CanonicalHash(rawEventData(ev.EventData))
		if err != nil {
			return &VerifyResult{OK: false, FirstBadOffset: i, Reason: "unable to canonicalize stored event_data"}, nil
		}
		if wantContentHash != ev.ContentHash {
			return &VerifyResult{OK: false, FirstBadOffset: i, Reason: "content_hash mismatch"}, nil
		}
		if ev.PreviousHash != prevHash {
			return &VerifyResult{OK: false, FirstBadOffset: i, Reason: "previous_hash does not match prior chain_hash"}, nil
		}
		wantChainHash := canonicalize.HashBytes([]byte(ev.ContentHash + ev.PreviousHash))
		if wantChainHash != ev.ChainHash {
			return &VerifyResult{OK: false, FirstBadOffset: i, Reason: "chain_hash mismatch"}, nil
		}
		prevHash = ev.ChainHash
	}

	return &VerifyResult{OK: true, FirstBadOffset: -1}, nil
}

// rawEventData decodes the stored JSON back into a generic value so
// CanonicalHash reproduces exactly the hash Append computed, regardless of
// how the driver returned the JSONB column.
func rawEventData(raw []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// ExportCSV writes a tenant's full chain as CSV in the frozen column order.
func (s *Service) ExportCSV(w io.Writer, tenantID string) error {
	events, err := s.store.AllForVerify(tenantID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			ev.ID, ev.TenantID, string(ev.EventType), ev.CreatedAt.UTC().Format(time.RFC3339Nano),
			ev.ContentHash, ev.PreviousHash, ev.ChainHash, ev.UserID, ev.CorrelationID, ev.Description,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportEvidenceZip writes a self-contained evidence pack: the CSV export
// plus a manifest carrying the chain's final chain_hash and an HMAC
// signature over the manifest, so an auditor can detect if the pack was
// altered after being produced.
func (s *Service) ExportEvidenceZip(w io.Writer, tenantID string, hmacKey []byte) error {
	events, err := s.store.AllForVerify(tenantID)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	csvFile, err := zw.Create("ledger_export.csv")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(csvFile)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	finalHash := Genesis
	for _, ev := range events {
		row := []string{
			ev.ID, ev.TenantID, string(ev.EventType), ev.CreatedAt.UTC().Format(time.RFC3339Nano),
			ev.ContentHash, ev.PreviousHash, ev.ChainHash, ev.UserID, ev.CorrelationID, ev.Description,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
		finalHash = ev.ChainHash
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	manifest := map[string]interface{}{
		"tenant_id":    tenantID,
		"event_count":  len(events),
		"final_hash":   finalHash,
		"exported_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	sig, err := canonicalize.Sign(manifest, hmacKey, time.Now().Unix())
	if err != nil {
		return err
	}
	manifest["signature"] = sig

	manifestFile, err := zw.Create("manifest.json")
	if err != nil {
		return err
	}
	if err := json.NewEncoder(manifestFile).Encode(manifest); err != nil {
		return err
	}

	return zw.Close()
}
