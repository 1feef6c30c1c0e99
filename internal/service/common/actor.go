//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/oshokin/distroget/internal/domain/release"
)

// Triggers recorded in run reports.
const (
	TriggerCLI      = "cli"
	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// DetectActor gathers host and user information recorded in run reports.
// Containers often lack a passwd entry, so $USER is used when the lookup fails.
func DetectActor(trigger string) (*release.Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	actor := &release.Actor{
		Hostname: hostname,
		Trigger:  trigger,
	}

	currentUser, err := user.Current()
	if err == nil {
		actor.Username = currentUser.Username

		return actor, nil
	}

	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		actor.Username = name

		return actor, nil
	}

	return actor, fmt.Errorf("current user: %w", err)
}
