package cluster

import (
	"os"
	"strconv"
	"strings"
)

// EnvInstanceID numbers replicas of one role, starting at 0.
const EnvInstanceID = "HUEMAP_INSTANCE_ID"

// instanceKeys are checked in order; the latter two are set by common
// process managers.
var instanceKeys = []string{EnvInstanceID, "NODE_APP_INSTANCE", "INSTANCE_ID"}

// InstanceID returns the replica index and whether one was configured.
// A malformed value reports (-1, true) so that replica never claims the
// primary role.
func InstanceID() (int, bool) {
	for _, key := range instanceKeys {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return -1, true
		}
		return v, true
	}
	return 0, false
}

// ShouldRunCron keeps scheduled jobs single-run across replicas: only
// instance 0 runs them, and an unnumbered process always does.
func ShouldRunCron() bool {
	id, ok := InstanceID()
	if !ok {
		return true
	}
	return id == 0
}
