package models

import (
	"maps"
	"slices"
	"strings"
	"time"

	id "herdbook/pkg/domain"
)

// Vector is an embedding produced by the external encoder. Its length is fixed
// for the lifetime of a corpus.
type Vector []float32

// Dim returns the vector dimensionality.
func (v Vector) Dim() int {
	return len(v)
}

// Clone returns an independent copy so callers cannot mutate stored embeddings.
func (v Vector) Clone() Vector {
	return slices.Clone(v)
}

// Metadata is owner information passed through untouched by matching.
type Metadata map[string]string

// Owner metadata keys collected by the registration form.
const (
	MetaOwnerName    = "owner_name"
	MetaOwnerPhone   = "owner_phno"
	MetaOwnerAddress = "owner_address"
	MetaCity         = "city"
	MetaState        = "state"
	MetaZip          = "zip"
)

// NormalizeMetadata trims keys and drops entries whose key is blank. Values are
// kept verbatim.
func NormalizeMetadata(in map[string]string) Metadata {
	out := make(Metadata, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Record is a registered identity. Records are append-only: once inserted
// nothing about them changes.
type Record struct {
	ID        id.RecordID
	Embedding Vector
	Metadata  Metadata
	Image     []byte
	CreatedAt time.Time
}

// Clone deep-copies the record so stores can hand out values safely.
func (r Record) Clone() Record {
	return Record{
		ID:        r.ID,
		Embedding: r.Embedding.Clone(),
		Metadata:  maps.Clone(r.Metadata),
		Image:     slices.Clone(r.Image),
		CreatedAt: r.CreatedAt,
	}
}

// Match is an above-threshold candidate found by the match engine.
type Match struct {
	Record Record
	Score  float64
}

// MatchResult is either NoMatch (Match == nil) or a Match.
type MatchResult struct {
	Match *Match
	// Compared is how many candidates were scored before the scan stopped.
	Compared int
}

// Found reports whether the scan produced a match.
func (r MatchResult) Found() bool {
	return r.Match != nil
}

// NoMatch returns an empty result.
func NoMatch(compared int) MatchResult {
	return MatchResult{Compared: compared}
}

// RegistrationStatus is the externally visible decision of Register.
type RegistrationStatus string

const (
	StatusAlreadyExists RegistrationStatus = "already_exists"
	StatusRegistered    RegistrationStatus = "registered"
)

// RegistrationOutcome is AlreadyExists{Record, Score} or Registered{Record}.
// Score is zero for Registered.
type RegistrationOutcome struct {
	Status RegistrationStatus
	Record Record
	Score  float64
}

// Registered reports whether a new record was admitted.
func (o RegistrationOutcome) Registered() bool {
	return o.Status == StatusRegistered
}

// IdentificationOutcome is the read-only result of Identify.
type IdentificationOutcome struct {
	Matched bool
	Record  Record
	Score   float64
}

// RegisterInput carries everything needed to admit a new identity.
type RegisterInput struct {
	Embedding Vector
	Metadata  map[string]string
	Image     []byte
}
