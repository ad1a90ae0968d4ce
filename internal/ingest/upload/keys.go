package upload

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	provisionalDir = "_provisional"
	loopDir        = "_loops"
)

// NewProvisionalKey returns a disposable key under folder. The nanosecond
// timestamp orders keys, the random suffix keeps same-instant keys apart.
func NewProvisionalKey(folder string, now time.Time) string {
	return joinKey(folder, provisionalDir, fmt.Sprintf("%d_%s", now.UTC().UnixNano(), randomToken(12)))
}

// IsProvisionalKey reports whether key sits under a provisional prefix.
func IsProvisionalKey(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == provisionalDir {
			return true
		}
	}
	return false
}

// ProvisionalPrefix is the listing prefix for provisional objects in folder.
func ProvisionalPrefix(folder string) string {
	return joinKey(folder, provisionalDir) + "/"
}

// LoopKey is where the loop derivative of the object at key is written.
func LoopKey(key string) string {
	dir := path.Dir(key)
	if path.Base(dir) == provisionalDir {
		dir = path.Dir(dir)
	}
	if dir == "." {
		dir = ""
	}
	return joinKey(dir, loopDir, path.Base(key)+".mp4")
}

func randomToken(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

func joinKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
