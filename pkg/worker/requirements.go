package worker

import (
	"fmt"
	"os"

	"cmdworker/pkg/models"
)

// checkRequirements verifies the job's declared preconditions against the
// worker host. Every listed path must exist; the first missing one fails
// the job before anything is launched.
func checkRequirements(req models.Requirements) error {
	for _, path := range req.Paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("requirement not met: path %q does not exist", path)
			}
			return fmt.Errorf("requirement not met: path %q: %v", path, err)
		}
	}
	return nil
}
