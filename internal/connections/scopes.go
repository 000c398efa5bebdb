package connections

import (
	"fmt"
	"strings"

	"github.com/ledgerline/ledgerline/internal/models"
)

// requiredScopes lists the scopes a grant must include per connection type.
// Notion issues capability-less tokens scoped by the user's page selection,
// so it has no entry.
var requiredScopes = map[models.ConnectionType][]string{
	models.ConnectionTypeGoogle: {
		"https://www.googleapis.com/auth/spreadsheets",
		"https://www.googleapis.com/auth/userinfo.email",
	},
}

// MissingScopesError indicates the provider grant lacks scopes the system
// requires. The authorization attempt is terminal, the user must re-consent
// with the missing scopes included.
type MissingScopesError struct {
	Type    models.ConnectionType
	Missing []string
}

func (e *MissingScopesError) Error() string {
	return fmt.Sprintf("%s grant is missing required scopes: %s", e.Type, strings.Join(e.Missing, ", "))
}

// ValidateScopes checks that granted covers every scope required for the
// connection type.
func ValidateScopes(connType models.ConnectionType, granted []string) error {
	required := requiredScopes[connType]
	if len(required) == 0 {
		return nil
	}

	have := make(map[string]bool, len(granted))
	for _, scope := range granted {
		have[scope] = true
	}

	var missing []string
	for _, scope := range required {
		if !have[scope] {
			missing = append(missing, scope)
		}
	}

	if len(missing) > 0 {
		return &MissingScopesError{Type: connType, Missing: missing}
	}
	return nil
}
