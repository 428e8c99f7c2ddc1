package requests

import (
	"errors"
	"strings"
)

// MergeSpec describes an account claim merge: absorb the unclaimed source
// profile into the target account. The store validates that the source still
// exists, is still unclaimed and still carries InstagramHandle before it
// touches anything, then performs every step in one transaction:
//
//  1. role tags move from source to target, or are discarded when
//     WipeRelationships is set; duplicates on the target are dropped
//  2. memberships and authored resources move from source to target
//  3. requests targeting the source are repointed at the target
//  4. the Instagram handle moves to the target, which becomes claimed
//  5. the source user row is deleted, cascading its own requests,
//     notifications and city assignments
//
// Step 5 removes the claim request row itself, which is why the engine
// commits the Approval record and the APPROVED status before calling
// MergeAccounts.
type MergeSpec struct {
	SourceUserID      string
	TargetUserID      string
	InstagramHandle   string
	WipeRelationships bool
}

// Validate checks the spec is structurally sound.
func (s MergeSpec) Validate() error {
	if strings.TrimSpace(s.SourceUserID) == "" {
		return errors.New("source user id is required")
	}
	if strings.TrimSpace(s.TargetUserID) == "" {
		return errors.New("target user id is required")
	}
	if s.SourceUserID == s.TargetUserID {
		return errors.New("source and target must differ")
	}
	if strings.TrimSpace(s.InstagramHandle) == "" {
		return errors.New("instagram handle is required")
	}
	return nil
}
