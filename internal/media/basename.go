package media

import (
	"regexp"
	"strings"
)

// baseNameRules are applied once each, in order. Later prefixes only match
// when an earlier rule has already exposed them.
var baseNameRules = []*regexp.Regexp{
	regexp.MustCompile(`\.mp4$`),
	regexp.MustCompile(`^api_generated_`),
	regexp.MustCompile(`^analyzed_`),
	regexp.MustCompile(`^overlayed_`),
	regexp.MustCompile(`^enhanced_replay_`),
	regexp.MustCompile(`^acl_risk_overlay_`),
	regexp.MustCompile(`^fixed_overlayed_analytics_`),
	regexp.MustCompile(`^downloaded_overlayed_`),
	regexp.MustCompile(`^enhanced_analyzed_temp_\d+_`),
	regexp.MustCompile(`^h264_analyzed_temp_\d+_`),
	regexp.MustCompile(`^api_generated_overlayed_`),
	regexp.MustCompile(`_\d+$`),
	regexp.MustCompile(`\s*\([^)]*\)$`),
}

// ExtractBaseName recovers the upload's base name from a processed video
// filename so per-frame statistics can be looked up by it.
func ExtractBaseName(name string) string {
	for _, re := range baseNameRules {
		name = re.ReplaceAllString(name, "")
	}
	return name
}

// analyticsBaseName picks the name per-frame statistics are stored under.
func analyticsBaseName(processed, analytics, video string) string {
	switch {
	case processed != "":
		return ExtractBaseName(processed)
	case analytics != "":
		return strings.TrimSuffix(analytics, ".json")
	case video != "":
		return ExtractBaseName(video)
	default:
		return ""
	}
}
