// Package hashing computes stable, collision-resistant identifiers for
// cache keys and dedup keys: sha256 hex digests over a canonical,
// length-prefixed field encoding, so no field value can ever smuggle
// in a separator and collide with a logically different record. The
// per-artifact key schemes are load-bearing — changing one orphans
// every record already persisted under it.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// canonical writes each field length-prefixed ("<len>|<value>") before
// concatenating, so two different field splits can never collide.
func canonical(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte('|')
		b.WriteString(f)
	}
	return b.String()
}

func digest(fields ...string) string {
	sum := sha256.Sum256([]byte(canonical(fields...)))
	return hex.EncodeToString(sum[:])
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EntityHash is the entity dedup key:
// workspace | labelType | lower(trim(canonicalName)) | provider.
func EntityHash(workspace, labelType, canonicalName, provider string) string {
	return digest(workspace, labelType, normalizeName(canonicalName), provider)
}

// ClipHash implements the analysis-clip dedup key:
// mediaId | labelType | lower(trim(label)) | start.toFixed(3) |
// end.toFixed(3) | version.
func ClipHash(mediaID, labelType, label string, start, end float64, version int) string {
	return digest(
		mediaID,
		labelType,
		normalizeName(label),
		strconv.FormatFloat(start, 'f', 3, 64),
		strconv.FormatFloat(end, 'f', 3, 64),
		strconv.Itoa(version),
	)
}

// CoarseClipHash implements the coarser segment-dedup key:
// workspace | mediaId | labelType | floor(start) | floor(end).
func CoarseClipHash(workspace, mediaID, labelType string, start, end float64) string {
	return digest(
		workspace,
		mediaID,
		labelType,
		strconv.FormatInt(int64(start), 10),
		strconv.FormatInt(int64(end), 10),
	)
}

// TrackHash implements the track dedup key:
// mediaId | trackId | version | processor.
func TrackHash(mediaID, trackID string, version int, processor string) string {
	return digest(mediaID, trackID, strconv.Itoa(version), processor)
}

// CacheKey computes the dedup identity of a provider response cache
// entry: at most one entry exists per (mediaId, version, provider).
func CacheKey(mediaID string, version int, provider string) string {
	return digest(mediaID, strconv.Itoa(version), provider)
}

// ConfigHash produces a short, stable hash of a step's tuning config,
// used by deterministic output-name rules (Thumbnail/Sprite). It takes
// already-serialized fields, keeping step input structs decoupled from
// this package.
func ConfigHash(fields ...string) string {
	full := digest(fields...)
	return full[:12]
}

// ArtifactHash computes a derived artifact's content-addressed dedup
// hash from an arbitrary ordered field list (workspace, media, kind,
// time range, and so on).
func ArtifactHash(fields ...string) string {
	return digest(fields...)
}

// Fingerprint is a small debugging helper producing a human-readable
// fmt of the inputs that went into a digest, never used for identity.
func Fingerprint(label string, fields ...string) string {
	return fmt.Sprintf("%s(%s)", label, strings.Join(fields, ","))
}
