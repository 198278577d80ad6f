// Package naming implements the command-name derivation rule of spec.md
// §4.2, shared by the Validator (for name-feasibility/collision checks) and
// the Transformer (to produce the Cached Spec's display fields).
package naming

import (
	"strings"

	"github.com/kioku/aperture/internal/stringutil"
	"github.com/kioku/aperture/pkg/specmodel"
)

// Derived is the full name-derivation result for one operation.
type Derived struct {
	Group        string // derived kebab group, pre-override
	Name         string // derived kebab name, pre-override
	DisplayGroup string // effective group after mapping.groups + operation override
	DisplayName  string // effective name after operation override
	Aliases      []string
	Hidden       bool
}

// Derive applies rules 1-4 of spec.md §4.2 name derivation.
func Derive(tags []string, operationID, method string, mapping specmodel.CommandMapping) Derived {
	originalTag := ""
	group := "default"
	if len(tags) > 0 {
		originalTag = tags[0]
		group = stringutil.KebabTag(tags[0])
	}

	name := strings.ToLower(method)
	if operationID != "" {
		name = stringutil.Kebab(operationID)
	}

	displayGroup := group
	if renamed, ok := mapping.Groups[originalTag]; ok && renamed != "" {
		displayGroup = stringutil.Kebab(renamed)
	}

	d := Derived{Group: group, Name: name, DisplayGroup: displayGroup, DisplayName: name}

	override, ok := mapping.Operations[operationID]
	if !ok {
		return d
	}
	if override.DisplayName != "" {
		d.DisplayName = override.DisplayName
	}
	if override.DisplayGroup != "" {
		d.DisplayGroup = override.DisplayGroup
	}
	d.Aliases = override.Aliases
	d.Hidden = override.Hidden
	return d
}
