package media

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// candidate is one entry of a resolution priority list. build reports false
// when the session lacks the identifiers the candidate needs. Candidates
// flagged conservative stay eligible while the backend is overloaded.
type candidate struct {
	name         string
	conservative bool
	build        func(r *Resolver, s *models.Session) (string, bool)
}

// videoCandidates is the full priority order used while the backend is healthy.
var videoCandidates = []candidate{
	{name: "analyzed_stream", conservative: true, build: (*Resolver).analyzedStream},
	{name: "original_stream", conservative: true, build: (*Resolver).originalStream},
	{name: "processed_url", conservative: false, build: (*Resolver).processedURL},
	{name: "processed_filename", conservative: true, build: func(r *Resolver, s *models.Session) (string, bool) {
		return r.videoByFilename(s.ProcessedVideoFilename)
	}},
	{name: "video_filename", conservative: false, build: func(r *Resolver, s *models.Session) (string, bool) {
		return r.videoByFilename(s.VideoFilename)
	}},
	{name: "original_filename", conservative: false, build: func(r *Resolver, s *models.Session) (string, bool) {
		return r.videoByFilename(s.OriginalFilename)
	}},
	{name: "session", conservative: true, build: func(r *Resolver, s *models.Session) (string, bool) {
		if s.ID == "" {
			return "", false
		}
		return r.backend("/getVideoFromSession/" + url.PathEscape(s.ID)), true
	}},
	{name: "fallback", conservative: true, build: func(r *Resolver, _ *models.Session) (string, bool) {
		return r.opts.FallbackVideoURL, true
	}},
}

var analyticsCandidates = []candidate{
	{name: "gridfs", conservative: true, build: func(r *Resolver, s *models.Session) (string, bool) {
		if s.GridFSAnalyticsID == "" {
			return "", false
		}
		return r.backend("/getAnalytics/" + url.PathEscape(s.GridFSAnalyticsID)), true
	}},
	{name: "analytics_url", conservative: true, build: func(r *Resolver, s *models.Session) (string, bool) {
		seg := lastPathSegment(s.AnalyticsURL)
		if seg == "" {
			return "", false
		}
		return r.backend("/getAnalytics/" + url.PathEscape(seg)), true
	}},
	{name: "per_frame", conservative: false, build: func(r *Resolver, s *models.Session) (string, bool) {
		base := analyticsBaseName(s.ProcessedVideoFilename, s.AnalyticsFilename, s.VideoFilename)
		if base == "" {
			return "", false
		}
		return r.backend("/getPerFrameStatistics?" + url.Values{"video_filename": {base}}.Encode()), true
	}},
	{name: "fallback", conservative: true, build: func(*Resolver, *models.Session) (string, bool) {
		return "", true
	}},
}

// pick returns the first candidate that applies under the given mode.
func (r *Resolver) pick(list []candidate, s *models.Session, overloaded bool) (value, name string) {
	for _, c := range list {
		if overloaded && !c.conservative {
			continue
		}
		if v, ok := c.build(r, s); ok {
			return v, c.name
		}
	}
	return "", ""
}

var streamIDPattern = regexp.MustCompile(`(?i)cloudflarestream\.com/([a-f0-9]{32})`)

func (r *Resolver) analyzedStream(s *models.Session) (string, bool) {
	if s.Meta == nil {
		return "", false
	}
	return r.stream(s.Meta.AnalyzedURL, s.Meta.AnalyzedStreamID)
}

func (r *Resolver) originalStream(s *models.Session) (string, bool) {
	if s.Meta == nil {
		return "", false
	}
	return r.stream(s.Meta.StreamURL, s.Meta.StreamID)
}

func (r *Resolver) stream(streamURL, streamID string) (string, bool) {
	if streamURL != "" {
		return r.normalizeStream(streamURL), true
	}
	if streamID != "" {
		return r.iframeURL(streamID), true
	}
	return "", false
}

// normalizeStream rewrites stream-hosted URLs to their iframe embed form.
func (r *Resolver) normalizeStream(u string) string {
	if m := streamIDPattern.FindStringSubmatch(u); m != nil {
		return r.iframeURL(strings.ToLower(m[1]))
	}
	return u
}

func (r *Resolver) iframeURL(id string) string {
	if r.opts.StreamCustomerDomain == "" {
		return "https://iframe.videodelivery.net/" + id
	}
	return fmt.Sprintf("https://%s/%s/iframe", r.opts.StreamCustomerDomain, id)
}

// processedURL accepts a stored processed-video URL unless it points back at
// the analysis backend or a loopback host, which would load the backend.
func (r *Resolver) processedURL(s *models.Session) (string, bool) {
	if s.ProcessedVideoURL == "" {
		return "", false
	}
	if r.localBackend(s.ProcessedVideoURL) {
		return "", false
	}
	return r.normalizeStream(s.ProcessedVideoURL), true
}

func (r *Resolver) localBackend(raw string) bool {
	if strings.HasPrefix(raw, "/") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return r.backendHost != "" && strings.EqualFold(u.Host, r.backendHost)
}

func (r *Resolver) videoByFilename(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	return r.backend("/getVideo?" + url.Values{"video_filename": {name}}.Encode()), true
}

func (r *Resolver) backend(p string) string {
	return r.opts.BackendURL + p
}

func lastPathSegment(raw string) string {
	if raw == "" {
		return ""
	}
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	seg := path.Base(strings.TrimSuffix(p, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}
