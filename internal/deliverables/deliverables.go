// Package deliverables implements the mandatory-artifact check enforced
// before certain phase gates. The engine treats the Gate as opaque: a
// failed check rejects the whole transition and surfaces the message.
package deliverables

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

// Gate reports whether a project holds the required artifacts for a target
// phase. ok=false carries a human-readable message; err is reserved for
// infrastructure failures.
type Gate interface {
	ValidateMandatory(ctx context.Context, project domain.Project, targetPhase string) (ok bool, message string, err error)
}

// Checker validates against document categories attached to the project,
// with required categories per target phase taken from config.
type Checker struct {
	Repo     repo.Repo
	Required map[string][]string
}

func (c Checker) ValidateMandatory(ctx context.Context, project domain.Project, targetPhase string) (bool, string, error) {
	required := c.Required[targetPhase]
	if len(required) == 0 {
		return true, "", nil
	}
	have, err := c.Repo.ProjectDocumentCategories(ctx, project.ID)
	if err != nil {
		return false, "", err
	}
	var missing []string
	for _, cat := range required {
		if !have[cat] {
			missing = append(missing, cat)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return false, fmt.Sprintf("missing mandatory deliverables for %s: %s", targetPhase, strings.Join(missing, ", ")), nil
	}
	return true, "", nil
}
