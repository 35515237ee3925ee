// Package task derives the deterministic identities used as checkpoint
// thread keys for jobs and their units.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Domain prefixes keep job and unit hashes in separate spaces.
const (
	domainJob     = "sqltrans/job/v1"
	domainContent = "sqltrans/content/v1"
	domainChunk   = "sqltrans/chunk/v1"
)

// unitSeparator joins a job id and a unit content hash into a unit id.
const unitSeparator = ":"

// hashWithDomain computes SHA256(domain + 0x00 + part0 + 0x00 + part1 ...).
// The null separators stop ("ab","c") and ("a","bc") from colliding.
func hashWithDomain(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns a stable hash of a document's bytes.
func ContentHash(content string) string {
	return hashWithDomain(domainContent, content)
}

// JobID identifies one job execution lineage. Changing any instruction,
// format tag, input token or byte of input yields a different id.
func JobID(instructions, sourceFormat, destinationFormat, inputToken, contentHash string) string {
	return hashWithDomain(domainJob, instructions, sourceFormat, destinationFormat, inputToken, contentHash)
}

// ChunkID identifies a standalone unit request that is not part of a job
// (the single-unit HTTP endpoint).
func ChunkID(sourceFormat, destinationFormat, instructions, sql string) string {
	return hashWithDomain(domainChunk, sourceFormat, destinationFormat, instructions, sql)
}

// UnitID derives the identity of a unit inside a job. It is the job id
// followed by the unit's content hash, so all units of a job share the job id
// as a key prefix.
func UnitID(jobID, unitText string) string {
	return jobID + unitSeparator + ContentHash(unitText)
}

// JobOf returns the job id prefix of a unit id, or "" when id is not a unit id.
func JobOf(unitID string) string {
	i := strings.LastIndex(unitID, unitSeparator)
	if i <= 0 {
		return ""
	}
	return unitID[:i]
}
