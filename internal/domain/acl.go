package domain

import (
	"fmt"
	"strings"
)

// AclAction is a capability checked against a principal within a namespace.
type AclAction string

const (
	// AclActionReadBlobs allows reading blobs from a namespace.
	AclActionReadBlobs AclAction = "ReadBlobs"
	// AclActionWriteBlobs allows writing blobs to a namespace.
	AclActionWriteBlobs AclAction = "WriteBlobs"
	// AclActionReadRefs allows resolving refs in a namespace.
	AclActionReadRefs AclAction = "ReadRefs"
	// AclActionWriteRefs allows creating or moving refs in a namespace.
	AclActionWriteRefs AclAction = "WriteRefs"
	// AclActionDeleteRefs allows deleting refs in a namespace.
	AclActionDeleteRefs AclAction = "DeleteRefs"
	// AclActionUploadTool allows creating and updating tool deployments.
	AclActionUploadTool AclAction = "UploadTool"
	// AclActionDownloadTool allows downloading non-public tools.
	AclActionDownloadTool AclAction = "DownloadTool"
	// AclActionAdminister grants every action on the namespace.
	AclActionAdminister AclAction = "AdministerNamespace"
)

var knownActions = map[AclAction]struct{}{
	AclActionReadBlobs:    {},
	AclActionWriteBlobs:   {},
	AclActionReadRefs:     {},
	AclActionWriteRefs:    {},
	AclActionDeleteRefs:   {},
	AclActionUploadTool:   {},
	AclActionDownloadTool: {},
	AclActionAdminister:   {},
}

// ParseAclAction parses an action name, case-insensitively.
func ParseAclAction(s string) (AclAction, error) {
	for action := range knownActions {
		if strings.EqualFold(string(action), strings.TrimSpace(s)) {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: unknown acl action %q", ErrInvalidConfig, s)
}

// AclEntry grants a set of actions to every principal holding a claim.
type AclEntry struct {
	Claim   Claim
	Actions []AclAction
}

// NamespaceConfig is the access-control configuration for one namespace.
type NamespaceConfig struct {
	ID  NamespaceID
	Acl []AclEntry
}

// Authorize reports whether the principal is granted action in this namespace.
func (c *NamespaceConfig) Authorize(action AclAction, principal *Principal) bool {
	if c == nil || principal == nil {
		return false
	}
	for _, entry := range c.Acl {
		if !principal.HasClaim(entry.Claim) {
			continue
		}
		for _, granted := range entry.Actions {
			if granted == action || granted == AclActionAdminister {
				return true
			}
		}
	}
	return false
}

// Authorize evaluates every required action against cfg. It denies when cfg is
// nil, when no actions are requested, or when any action is not granted.
func Authorize(principal *Principal, cfg *NamespaceConfig, actions ...AclAction) bool {
	if cfg == nil || len(actions) == 0 {
		return false
	}
	for _, action := range actions {
		if !cfg.Authorize(action, principal) {
			return false
		}
	}
	return true
}
