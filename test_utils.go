package guestmem

import "os"

// isCI returns true if running under CI (CI=true) or in GitHub Actions.
func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
