package convert

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/aledsdavies/stilconv/internal/ast"
)

// SymbolSnapshot is a deterministic, CBOR-encodable projection of a
// SymbolTable, grounded on the teacher's planfmt.CanonicalPlan: it exists
// only to give the symbol table a stable binary encoding (ast.SymbolTable
// itself has unexported fields and no canonical form of its own) for the
// --dump-symbols CLI flag and the GASC round-trip equality property.
type SymbolSnapshot struct {
	Version    uint8
	Signals    []SnapshotSignal
	Groups     []SnapshotGroup
	WFTs       []SnapshotWFT
	Procedures []string
	Macros     []string
}

type SnapshotSignal struct {
	Name       string
	Direction  int
	DefaultWFC byte
}

type SnapshotGroup struct {
	Name    string
	Members []string
}

type SnapshotWFT struct {
	Name   string
	Period float64
	ID     int
}

// Snapshot projects a SymbolTable into its canonical, order-stable form.
func Snapshot(symbols *ast.SymbolTable) SymbolSnapshot {
	snap := SymbolSnapshot{Version: 1}
	for _, name := range symbols.Signals.Names() {
		sig, _ := symbols.Signals.Get(name)
		snap.Signals = append(snap.Signals, SnapshotSignal{
			Name: sig.Name, Direction: int(sig.Direction), DefaultWFC: sig.DefaultWFC,
		})
	}
	for _, g := range symbols.Groups.All() {
		snap.Groups = append(snap.Groups, SnapshotGroup{Name: g.Name, Members: g.Members})
	}
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].Name < snap.Groups[j].Name })

	for _, name := range symbols.WFTOrder {
		wft := symbols.WFTs[name]
		snap.WFTs = append(snap.WFTs, SnapshotWFT{Name: wft.Name, Period: wft.Period, ID: wft.ID})
	}
	for name := range symbols.Procedures.All() {
		snap.Procedures = append(snap.Procedures, name)
	}
	sort.Strings(snap.Procedures)
	for name := range symbols.Macros.All() {
		snap.Macros = append(snap.Macros, name)
	}
	sort.Strings(snap.Macros)
	return snap
}

// MarshalBinary produces a deterministic CBOR encoding of the snapshot,
// byte-stable across runs (mirrors the teacher's CanonicalPlan.MarshalBinary:
// a type-alias dodges MarshalBinary's own recursion through cbor.Marshal).
func (s *SymbolSnapshot) MarshalBinary() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("creating CBOR encoder: %w", err)
	}
	type symbolSnapshotAlias SymbolSnapshot
	alias := (*symbolSnapshotAlias)(s)
	data, err := encMode.Marshal(alias)
	if err != nil {
		return nil, fmt.Errorf("CBOR encoding symbol snapshot: %w", err)
	}
	return data, nil
}

// Fingerprint returns the SHA-256 hash of the snapshot's canonical CBOR
// encoding, printed by --dump-symbols.
func (s *SymbolSnapshot) Fingerprint() ([32]byte, error) {
	data, err := s.MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
