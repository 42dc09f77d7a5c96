package learning

import "fmt"

// Policy chooses among the reachable ports of a host.
type Policy int

const (
	// PolicyRoundRobin rotates the port list by one and takes the new head.
	PolicyRoundRobin Policy = iota
	// PolicyRandom picks uniformly among the candidates.
	PolicyRandom
	// PolicyAvoidLastUsed drops the previously selected port when at least
	// two candidates remain, then picks uniformly.
	PolicyAvoidLastUsed
)

func (p Policy) String() string {
	switch p {
	case PolicyRoundRobin:
		return "round-robin"
	case PolicyRandom:
		return "random"
	case PolicyAvoidLastUsed:
		return "avoid-last-used"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "round-robin":
		return PolicyRoundRobin, nil
	case "random":
		return PolicyRandom, nil
	case "avoid-last-used":
		return PolicyAvoidLastUsed, nil
	default:
		return 0, fmt.Errorf("unknown port selection policy %q", name)
	}
}
