package restore

import (
	"fmt"
	"strings"
)

// Option selects a restoration strategy. The set is closed: RestoreOriginal,
// PromoteProfile, and CleanRemoval are the only implementations.
type Option interface {
	fmt.Stringer
	option()
}

// RestoreOriginal puts the pre-existing configuration back from the backup.
type RestoreOriginal struct{}

// PromoteProfile makes a profile's files the plain home configuration.
type PromoteProfile struct {
	ProfileID string
}

// CleanRemoval removes everything shelf manages and restores nothing.
type CleanRemoval struct{}

func (RestoreOriginal) option() {}
func (PromoteProfile) option()  {}
func (CleanRemoval) option()    {}

func (RestoreOriginal) String() string  { return "original" }
func (o PromoteProfile) String() string { return "promote=" + o.ProfileID }
func (CleanRemoval) String() string     { return "clean" }

// ParseOption parses "original", "promote=<id>", or "clean".
func ParseOption(s string) (Option, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "original":
		return RestoreOriginal{}, nil
	case s == "clean":
		return CleanRemoval{}, nil
	case strings.HasPrefix(s, "promote="):
		id := strings.TrimPrefix(s, "promote=")
		if id == "" {
			return nil, fmt.Errorf("promote needs a profile id (promote=<id>)")
		}
		return PromoteProfile{ProfileID: id}, nil
	default:
		return nil, fmt.Errorf("unknown restore option %q (want original, promote=<id>, or clean)", s)
	}
}
