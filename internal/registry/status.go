package registry

// ItemStatus derives the combined status of an item.
//
// Precedence:
//  1. invalidated: any owning-feature source fingerprint is stale; the
//     item's recorded evidence predates the code it vouches for.
//  2. fully-verified: a human has confirmed it, and machine evidence is
//     either present or not owed (non-automatable classes).
//  3. machine-only: machine evidence without human confirmation.
//  4. untested: everything else. A human-only confirmation of an
//     automatable item stays untested: machine evidence is still owed for
//     that class.
func ItemStatus(it Item, sourcesStale bool) Status {
	if sourcesStale {
		return StatusInvalidated
	}
	if it.Human.Verified && (it.Machine.Verified || it.Class != ClassAutomatable) {
		return StatusFullyVerified
	}
	if it.Machine.Verified {
		return StatusMachineOnly
	}
	return StatusUntested
}

// HasOpenIssues reports whether any of the item's linked issues is in an
// open status, given a lookup from issue id to status. Unknown issue ids
// count as open: a dangling reference must block, not silently unblock.
func HasOpenIssues(it Item, statusOf func(issueID string) (string, bool)) (bool, []string) {
	var open []string
	for _, id := range it.Issues {
		status, ok := statusOf(id)
		if !ok || OpenIssueStatuses[status] {
			open = append(open, id)
		}
	}
	return len(open) > 0, open
}
