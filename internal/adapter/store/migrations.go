package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"ragchat/internal/domain"
)

// CurrentSchemaVersion is the current on-disk layout version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

// IndexSettings is the configuration an index depends on. Any change to it
// means existing vectors cannot be reused.
type IndexSettings struct {
	ChunkSize      int    `json:"chunk_size"`
	Overlap        int    `json:"overlap"`
	EmbeddingModel string `json:"embedding_model"`
	Dimension      int    `json:"dimension"`
}

// Fingerprint hashes the settings.
func (s IndexSettings) Fingerprint() string {
	data, _ := json.Marshal(s)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// NewMeta builds the metadata for an index built now under s.
func NewMeta(s IndexSettings, builtAt time.Time) domain.IndexMeta {
	return domain.IndexMeta{
		SchemaVersion:  CurrentSchemaVersion,
		Fingerprint:    s.Fingerprint(),
		EmbeddingModel: s.EmbeddingModel,
		Dimension:      s.Dimension,
		ChunkSize:      s.ChunkSize,
		Overlap:        s.Overlap,
		BuiltAt:        builtAt,
	}
}

// MigrationResult describes whether a stored index can be used as is.
type MigrationResult struct {
	NeedsRebuild bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckMigration compares stored metadata against the current settings.
func CheckMigration(stored domain.IndexMeta, current IndexSettings) MigrationResult {
	result := MigrationResult{
		OldVersion: stored.SchemaVersion,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case stored.SchemaVersion < CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", stored.SchemaVersion, CurrentSchemaVersion)
	case stored.SchemaVersion > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("index created by newer version (v%d > v%d)", stored.SchemaVersion, CurrentSchemaVersion)
	case stored.EmbeddingModel != current.EmbeddingModel:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("embedding model changed from %q to %q", stored.EmbeddingModel, current.EmbeddingModel)
	case stored.Fingerprint != current.Fingerprint():
		result.NeedsRebuild = true
		result.Reason = "index configuration changed"
	}

	return result
}

// Verify returns domain.ErrIndexStale when stored cannot be reused.
func Verify(stored domain.IndexMeta, current IndexSettings) error {
	if res := CheckMigration(stored, current); res.NeedsRebuild {
		return fmt.Errorf("%w: %s", domain.ErrIndexStale, res.Reason)
	}
	return nil
}
