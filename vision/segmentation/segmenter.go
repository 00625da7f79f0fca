// Package segmentation assigns scene point cloud indices to posed object instances.
package segmentation

import (
	"strings"

	"github.com/pkg/errors"
)

// SelfMatchPolicy decides which neighbors of a radius query count towards an instance.
type SelfMatchPolicy int

const (
	// KeepAllMatches counts every scene point within the radius.
	KeepAllMatches SelfMatchPolicy = iota
	// DropCoincidentMatch discards scene points that coincide with the query point.
	DropCoincidentMatch
	// DropNearestMatch discards the nearest neighbor of every query, whatever its distance.
	DropNearestMatch
)

// coincidentDistance is the distance at or below which a neighbor coincides with its query.
const coincidentDistance = 1e-12

var policyNames = map[SelfMatchPolicy]string{
	KeepAllMatches:      "keep_all",
	DropCoincidentMatch: "drop_coincident",
	DropNearestMatch:    "drop_nearest",
}

func (p SelfMatchPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "unknown"
}

// SelfMatchPolicyFromString parses a policy name. The empty string selects KeepAllMatches.
func SelfMatchPolicyFromString(name string) (SelfMatchPolicy, error) {
	if name == "" {
		return KeepAllMatches, nil
	}
	for policy, policyName := range policyNames {
		if strings.EqualFold(name, policyName) {
			return policy, nil
		}
	}
	return KeepAllMatches, errors.Errorf("unknown self match policy %q", name)
}

// UnmarshalText parses a policy name.
func (p *SelfMatchPolicy) UnmarshalText(text []byte) error {
	policy, err := SelfMatchPolicyFromString(string(text))
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// MarshalText returns the policy name.
func (p SelfMatchPolicy) MarshalText() ([]byte, error) {
	if _, ok := policyNames[p]; !ok {
		return nil, errors.Errorf("unknown self match policy %d", int(p))
	}
	return []byte(p.String()), nil
}
