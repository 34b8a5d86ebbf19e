package linkcheck

// ValidationRequest holds a (possibly link-mapper-rewritten) Link together
// with the state needed to execute and, if necessary, retry it: the owning
// group, the number of attempts remaining, and whether the group's
// continuation policies permitted this attempt at construction time.
type ValidationRequest struct {
	Link           Link
	Group          *LinkGroup
	AttemptsLeft   int
	ShouldContinue bool
}

// newValidationRequest builds a request for link routed to group, applying
// the group's link mapper and latching its continuation-policy verdict.
func newValidationRequest(link Link, group *LinkGroup, attemptsLeft int) ValidationRequest {
	mapped := group.MapLink(link)
	verdict := group.EvaluateContinuation()
	return ValidationRequest{
		Link:           mapped,
		Group:          group,
		AttemptsLeft:   attemptsLeft,
		ShouldContinue: verdict.Valid,
	}
}
