package sanitize

import (
	"runtime"
	"strings"
)

// MaxFrames is the maximum number of call-site frames kept per event.
const MaxFrames = 10

// ownPackage is excluded from traces, the agent is never the interesting
// caller.
const ownPackage = "github.com/PowerDNS/perfagent/"

var libraryMarkers = []string{
	"/go/pkg/mod/",
	"/vendor/",
	"/usr/local/go/src/",
	ownPackage,
}

// Frames keeps only application frames and scrubs path segments that
// contain sensitive words.
//
// A frame is a string like "/srv/app/models/user.go:42 main.(*User).Save".
// If appPrefixes is non-empty, a frame must start with one of them.
// Frames from the module cache, vendored code, the Go root and the agent
// itself are always dropped.
func Frames(frames []string, appPrefixes []string) []string {
	goroot := runtime.GOROOT()
	var out []string
	for _, f := range frames {
		if f == "" || isLibraryFrame(f, goroot) {
			continue
		}
		if len(appPrefixes) > 0 && !hasAnyPrefix(f, appPrefixes) {
			continue
		}
		out = append(out, scrubFrame(f))
		if len(out) >= MaxFrames {
			break
		}
	}
	return out
}

// ScrubFrames scrubs sensitive path segments of every frame. Unlike
// Frames, it keeps library frames.
func ScrubFrames(frames []string) []string {
	if frames == nil {
		return nil
	}
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = scrubFrame(f)
	}
	return out
}

func isLibraryFrame(f, goroot string) bool {
	if goroot != "" && strings.HasPrefix(f, goroot+"/src/") {
		return true
	}
	for _, m := range libraryMarkers {
		if strings.Contains(f, m) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// scrubFrame replaces directory segments of the file part that contain a
// sensitive word. The file name and function are left alone.
func scrubFrame(f string) string {
	file, fn, hasFn := strings.Cut(f, " ")
	segments := strings.Split(file, "/")
	for i := 0; i < len(segments)-1; i++ {
		if containsSensitiveWord(segments[i]) {
			segments[i] = Filtered
		}
	}
	file = strings.Join(segments, "/")
	if hasFn {
		return file + " " + fn
	}
	return file
}
