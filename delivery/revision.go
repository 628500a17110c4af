package delivery

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PowerDNS/perfagent/config"
)

// RevisionEnv is the environment variable that holds the deploy revision.
const RevisionEnv = "PERFAGENT_REVISION"

// RevisionFile is read from the working directory if no revision is
// configured.
const RevisionFile = "REVISION"

// UnknownRevision is used when no revision can be found.
const UnknownRevision = "unknown"

var (
	revisionOnce sync.Once
	revision     string
)

// Revision returns the configured revision, or else the revision detected
// from the environment. Detection only happens once per process.
func Revision(c config.Config) string {
	if c.Revision != "" {
		return c.Revision
	}
	revisionOnce.Do(func() {
		wd, _ := os.Getwd()
		revision = detectRevision(os.Getenv(RevisionEnv), wd)
	})
	return revision
}

func detectRevision(env, dir string) string {
	if env = strings.TrimSpace(env); env != "" {
		return env
	}
	if dir != "" {
		if rev := readRevisionFile(filepath.Join(dir, RevisionFile)); rev != "" {
			return rev
		}
	}
	return UnknownRevision
}

func readRevisionFile(fpath string) string {
	f, err := os.Open(fpath)
	if err != nil {
		return ""
	}
	defer func() {
		_ = f.Close()
	}()
	s := bufio.NewScanner(f)
	if s.Scan() {
		return strings.TrimSpace(s.Text())
	}
	return ""
}
