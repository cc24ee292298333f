package txaudit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/kwonlabs/kwon-backplane/pkg/artifacts"
	"github.com/kwonlabs/kwon-backplane/pkg/merkle"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// PackVersion is stamped into every generated proof pack.
const PackVersion = "1.0"

var packCeiling = semver.MustParse("2.0.0")

// CheckPackVersion accepts any 1.x pack and rejects everything else.
func CheckPackVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid pack version %q: %w", version, err)
	}
	if v.Major() < 1 || !v.LessThan(packCeiling) {
		return fmt.Errorf("unsupported pack version %s", version)
	}
	return nil
}

// PackResult describes one written proof pack archive.
type PackResult struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
	Count  int    `json:"count"`
}

// PackOptions tunes pack contents and presentation.
type PackOptions struct {
	IncludeRaw    bool
	IncludeProof  bool
	IncludeAnchor bool
	TZ            string
}

// PackBuilder assembles offline-verifiable proof pack archives and
// publishes them through an artifact store.
type PackBuilder struct {
	store  *store.AuditStore
	blobs  artifacts.Store
	logger *slog.Logger
	clock  func() time.Time
}

func NewPackBuilder(st *store.AuditStore, blobs artifacts.Store, logger *slog.Logger) *PackBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackBuilder{store: st, blobs: blobs, logger: logger, clock: time.Now}
}

// WithClock overrides the time source for deterministic archives.
func (p *PackBuilder) WithClock(clock func() time.Time) *PackBuilder {
	p.clock = clock
	return p
}

// SingleDoc builds the pack document for one event without archiving it.
// The event must already be proven in a batch.
func (p *PackBuilder) SingleDoc(ctx context.Context, eventID string, opts PackOptions) (map[string]any, json.RawMessage, error) {
	bundle, err := p.store.Bundle(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if bundle.Proof == nil || bundle.Batch == nil {
		return nil, nil, store.ErrProofNotFound
	}

	doc := map[string]any{
		"version":         PackVersion,
		"generated_at":    FormatUTC(p.clock()),
		"event":           bundle.Event,
		"timestamp_local": FormatLocal(bundle.Event.Timestamp, opts.TZ),
		"details_hash":    bundle.Event.DetailsHash,
		"proof":           bundle.Proof,
		"batch":           bundle.Batch,
		"anchors":         bundle.Anchors,
		"verification":    verificationSection(),
	}
	var raw json.RawMessage
	if opts.IncludeRaw {
		raw = bundle.Event.RawJSON
	}
	return doc, raw, nil
}

// BuildSingle writes a proof pack archive for one event.
func (p *PackBuilder) BuildSingle(ctx context.Context, eventID string, opts PackOptions) (*PackResult, error) {
	doc, raw, err := p.SingleDoc(ctx, eventID, opts)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s.zip", eventID)
	return p.writePack(ctx, name, doc, raw, 1)
}

// MultiDoc builds the pack document for every event matching the query.
// Entries carry proof, batch, and anchors when present and requested.
func (p *PackBuilder) MultiDoc(ctx context.Context, q store.SearchQuery, opts PackOptions) (map[string]any, int, error) {
	events, err := p.store.SearchEvents(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]map[string]any, 0, len(events))
	for i := range events {
		ev := &events[i]
		entry := map[string]any{
			"event":           ev,
			"timestamp_local": FormatLocal(ev.Timestamp, opts.TZ),
		}
		if opts.IncludeProof {
			if bundle, err := p.store.Bundle(ctx, ev.EventID); err == nil {
				if bundle.Proof != nil {
					entry["proof"] = bundle.Proof
					entry["batch"] = bundle.Batch
				}
				if opts.IncludeAnchor && len(bundle.Anchors) > 0 {
					entry["anchors"] = bundle.Anchors
				}
			}
		}
		entries = append(entries, entry)
	}

	doc := map[string]any{
		"version":      PackVersion,
		"generated_at": FormatUTC(p.clock()),
		"query":        q,
		"events":       entries,
		"verification": verificationSection(),
	}
	return doc, len(entries), nil
}

// BuildMulti writes one archive covering every event matching the query.
func (p *PackBuilder) BuildMulti(ctx context.Context, q store.SearchQuery, opts PackOptions) (*PackResult, error) {
	doc, count, err := p.MultiDoc(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("proof_pack_batch_%s_n%d.zip", packStamp(p.clock()), count)
	return p.writePack(ctx, name, doc, nil, count)
}

func (p *PackBuilder) writePack(ctx context.Context, name string, doc map[string]any, rawEvent json.RawMessage, count int) (*PackResult, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	docJSON, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode pack document: %w", err)
	}
	if err := addZipFile(zw, "proof_pack.json", docJSON); err != nil {
		return nil, err
	}
	if len(rawEvent) > 0 {
		if err := addZipFile(zw, "event_raw.json", rawEvent); err != nil {
			return nil, err
		}
	}
	if err := addZipFile(zw, "README.txt", []byte(packReadme)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	path, err := p.blobs.Put(ctx, name, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("store archive: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	result := &PackResult{
		Path:   path,
		SHA256: hex.EncodeToString(sum[:]),
		Bytes:  int64(buf.Len()),
		Count:  count,
	}
	p.logger.Info("proof pack written", "path", path, "bytes", result.Bytes, "count", count)
	return result, nil
}

// VerifyResult reports an offline re-verification of a stored archive.
type VerifyResult struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Proofs   int    `json:"proofs"`
	Verified int    `json:"verified"`
}

type packedEntry struct {
	Proof *store.EventProof  `json:"proof"`
	Batch *store.MerkleBatch `json:"batch"`
}

// VerifyArchive re-checks a previously written pack: the version must be
// a supported 1.x release and every embedded proof must fold back to its
// batch root.
func (p *PackBuilder) VerifyArchive(ctx context.Context, name string) (*VerifyResult, error) {
	data, err := p.blobs.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", name, err)
	}

	var doc struct {
		packedEntry
		Version string        `json:"version"`
		Events  []packedEntry `json:"events"`
	}
	found := false
	for _, f := range zr.File {
		if f.Name != "proof_pack.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open pack document: %w", err)
		}
		err = json.NewDecoder(rc).Decode(&doc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decode pack document: %w", err)
		}
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("archive %s has no proof_pack.json", name)
	}
	if err := CheckPackVersion(doc.Version); err != nil {
		return nil, err
	}

	result := &VerifyResult{Name: name, Version: doc.Version}
	entries := append([]packedEntry{doc.packedEntry}, doc.Events...)
	for _, e := range entries {
		if e.Proof == nil || e.Batch == nil {
			continue
		}
		result.Proofs++
		if !merkle.Verify(e.Proof.LeafHash, e.Proof.ProofPath, e.Batch.MerkleRoot) {
			return result, fmt.Errorf("proof for %s does not fold to root %s",
				e.Proof.EventID, e.Batch.MerkleRoot)
		}
		result.Verified++
	}
	return result, nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func verificationSection() map[string]any {
	return map[string]any{
		"hash_algorithm": "sha256",
		"instructions": []string{
			"1. Recompute the details hash from the canonical JSON of the event subset fields.",
			"2. Confirm it equals proof.leaf_hash.",
			"3. Fold the leaf through proof.proof_path: for pos L hash(sibling || node), for pos R hash(node || sibling).",
			"4. Confirm the folded value equals batch.merkle_root.",
			"5. Confirm the anchored transaction for the batch on the listed chains.",
		},
	}
}

// packStamp renders the archive timestamp at second precision.
func packStamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

const packReadme = `K-WON transaction proof pack

This archive contains everything needed to verify the inclusion of the
listed event(s) in an anchored Merkle batch without access to the audit
service. See proof_pack.json, section "verification", for the procedure.
`
