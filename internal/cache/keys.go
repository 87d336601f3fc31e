package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

func BlobKey(namespace string) string {
	return fmt.Sprintf("cache:%s", namespace)
}

func VideoURLKey(sessionID, fingerprint, filename string) string {
	return fmt.Sprintf("media:video:%s:%s:%s", sessionID, fingerprint, filename)
}

func AnalyticsURLKey(sessionID, fingerprint, filename string) string {
	return fmt.Sprintf("media:analytics-url:%s:%s:%s", sessionID, fingerprint, filename)
}

func AnalyticsPayloadKey(sessionID, fingerprint, filename string) string {
	return fmt.Sprintf("media:analytics:%s:%s:%s", sessionID, fingerprint, filename)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

// Fingerprint summarizes every session field that media resolution reads, so
// the derived cache keys change whenever the resolvable resource may have.
func Fingerprint(s *models.Session) string {
	parts := []string{
		s.Phase(),
		s.OriginalFilename,
		s.VideoFilename,
		s.VideoURL,
		s.ProcessedVideoFilename,
		s.ProcessedVideoURL,
		s.AnalyticsFilename,
		s.AnalyticsURL,
		s.GridFSVideoID,
		s.GridFSAnalyticsID,
	}
	if m := s.Meta; m != nil {
		parts = append(parts, m.StreamID, m.StreamURL, m.AnalyzedStreamID, m.AnalyzedURL)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}
