package confidence

// Outcome is the action the resolver should take for a scored candidate
type Outcome string

const (
	// OutcomeAuthenticated grants the session without further challenge
	OutcomeAuthenticated Outcome = "authenticated"
	// OutcomePinOffered lets the user confirm with their device PIN
	OutcomePinOffered Outcome = "pin_offered"
	// OutcomeVerificationRequired forces a fresh out-of-band verification
	OutcomeVerificationRequired Outcome = "verification_required"
)

// Decide turns an evaluation into a resolver outcome. Matches found only
// through owner context or raw characteristics never authenticate outright,
// whatever their score; they are capped at verification.
func Decide(eval Evaluation, matchType MatchType, hasPin bool) Outcome {
	if matchType == MatchOwnerFallback || matchType == MatchOther {
		return OutcomeVerificationRequired
	}

	switch eval.Level {
	case LevelHigh:
		return OutcomeAuthenticated
	case LevelMedium:
		if hasPin {
			return OutcomePinOffered
		}
		return OutcomeVerificationRequired
	default:
		return OutcomeVerificationRequired
	}
}
