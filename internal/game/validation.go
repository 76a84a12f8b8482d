package game

import (
	"fmt"
	"strings"
)

// Notifications collects validation failures so a bet can be rejected with
// every problem reported at once, by return value rather than control flow.
type Notifications struct {
	problems []string
}

func (n *Notifications) Add(format string, args ...any) {
	n.problems = append(n.problems, fmt.Sprintf(format, args...))
}

func (n *Notifications) OK() bool { return len(n.problems) == 0 }

func (n *Notifications) Problems() []string { return n.problems }

func (n *Notifications) String() string { return strings.Join(n.problems, "; ") }

// ValidateBet checks a bet against its round's parameters. A failed
// validation changes no state; the caller surfaces the notifications to the
// submitter.
func ValidateBet(params *RoundParameters, b *Bet) Notifications {
	var n Notifications

	if b.Participant == "" {
		n.Add("participant account is required")
	}
	if !b.Amount.Equal(params.WagerAmount) {
		n.Add("wager must be exactly %s", params.WagerAmount)
	}

	choice := []rune(b.Choice)
	if len(choice) != params.ChoiceLength {
		n.Add("choice must be %d characters", params.ChoiceLength)
	}
	if !PoolContains(params.CharacterSet, b.Choice) {
		n.Add("choice contains characters outside the %s set", params.CharacterSet)
	}
	if !params.AllowRepeats {
		seen := make(map[rune]struct{}, len(choice))
		for _, r := range choice {
			if _, ok := seen[r]; ok {
				n.Add("repeated characters are not allowed")
				break
			}
			seen[r] = struct{}{}
		}
	}
	return n
}
