// Package consistency models how strictly a commit must match the stream
// version an aggregate was loaded at.
package consistency

// Requirement is an ordered concurrency requirement. Larger values are
// stricter.
type Requirement uint8

const (
	// None accepts the append whatever the stream currently holds.
	None Requirement = iota
	// MustExist requires the stream to hold at least one event.
	MustExist
	// MustMatchVersion requires the stream to be exactly at the loaded version.
	MustMatchVersion
)

// Join returns the stricter of r and other.
func (r Requirement) Join(other Requirement) Requirement {
	if other > r {
		return other
	}
	return r
}

// Valid reports whether r is one of the declared requirements.
func (r Requirement) Valid() bool {
	return r <= MustMatchVersion
}

func (r Requirement) String() string {
	switch r {
	case None:
		return "none"
	case MustExist:
		return "must_exist"
	case MustMatchVersion:
		return "must_match_version"
	default:
		return "unknown"
	}
}
