package experiment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
)

// Domain prefixes for fingerprints. The version suffix allows algorithm migration.
const (
	DomainTimeline = "agency/timeline/v1"
	DomainSettings = "agency/settings/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Micros converts a float quantity to integer millionths for canonical hashing.
func Micros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}

// TimelineHash fingerprints a step list so logged runs can be tied to the exact timeline used.
// Durations are hashed in microseconds.
func TimelineHash(steps []Step) (string, error) {
	arr := make([]any, len(steps))
	for i, s := range steps {
		arr[i] = map[string]any{
			"index":            s.Index,
			"description":      s.Description.String(),
			"duration_us":      Micros(s.DurationSeconds),
			"assigned_limb":    s.AssignedLimb.String(),
			"background_music": s.BackgroundMusic,
		}
	}
	b, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("timeline hash: %w", err)
	}
	return hashWithDomain(DomainTimeline, b), nil
}

// Fingerprint hashes an arbitrary canonical value under DomainSettings.
func Fingerprint(v map[string]any) (string, error) {
	b, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainSettings, b), nil
}
