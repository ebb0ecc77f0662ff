// Package merge implements the vertical (subclass/superclass) and static
// (horizontal) class merging passes. Each pass runs single-threaded over
// the whole program and produces a new reference-lens layer; rejected
// candidates silently degrade to "no merge".
package merge

// decision classifies one eligibility check outcome. Rejections are the
// common case and never errors; only malformed input escalates to a
// fatal compilation error.
type decision int

const (
	proceed decision = iota
	reject
	fatal
)

func (d decision) String() string {
	switch d {
	case proceed:
		return "proceed"
	case reject:
		return "reject"
	case fatal:
		return "fatal"
	}
	return "?"
}
