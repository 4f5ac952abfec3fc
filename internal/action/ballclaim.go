package action

import (
	"encoding/json"
	"fmt"
)

// BallClaim records which team, if any, a ball on the table is credited to.
//
// The server wire format is an integer (0 = unclaimed, 1 = home, 2 = away).
// Those sentinels never leave this package: callers work with the tagged
// values and the tap-to-cycle transition below.
type BallClaim int

const (
	Unclaimed BallClaim = iota
	ClaimedByHome
	ClaimedByAway
)

// String implements fmt.Stringer.
func (c BallClaim) String() string {
	switch c {
	case Unclaimed:
		return "unclaimed"
	case ClaimedByHome:
		return "home"
	case ClaimedByAway:
		return "away"
	default:
		return fmt.Sprintf("BallClaim(%d)", int(c))
	}
}

// Valid reports whether c is one of the three defined claims.
func (c BallClaim) Valid() bool {
	return c >= Unclaimed && c <= ClaimedByAway
}

// Cycle returns the next claim in the tap-to-cycle order used by the
// scoreboard: unclaimed, home, away, back to unclaimed.
func (c BallClaim) Cycle() BallClaim {
	switch c {
	case Unclaimed:
		return ClaimedByHome
	case ClaimedByHome:
		return ClaimedByAway
	default:
		return Unclaimed
	}
}

// Team returns the team number the server expects (1 or 2), or 0 when
// unclaimed.
func (c BallClaim) Team() int {
	return int(c)
}

// ClaimForTeam converts a server team number back into a claim.
func ClaimForTeam(team int) (BallClaim, error) {
	c := BallClaim(team)
	if !c.Valid() {
		return Unclaimed, fmt.Errorf("invalid team number %d", team)
	}
	return c, nil
}

// MarshalJSON writes the server's integer form.
func (c BallClaim) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid ball claim %d", int(c))
	}
	return json.Marshal(int(c))
}

// UnmarshalJSON reads the server's integer form.
func (c *BallClaim) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	claim, err := ClaimForTeam(n)
	if err != nil {
		return err
	}
	*c = claim
	return nil
}
