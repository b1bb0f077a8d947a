package job

// DefaultAnalysisTerminal is the set of report statuses that end analysis
// polling: completed or published on success, draft after a failed run.
// It matches the statuses ClassifyAnalysis reports on.
var DefaultAnalysisTerminal = []ReportStatus{ReportCompleted, ReportPublished, ReportDraft}

// Settled reports whether no item in s is pending or processing.
func Settled(s Snapshot) bool {
	for _, it := range s.items {
		if it.Status.IsOutstanding() {
			return false
		}
	}
	return true
}

// Outstanding is the negation of Settled.
func Outstanding(s Snapshot) bool { return !Settled(s) }

// AnalysisSettled returns a predicate that is true once the report status
// is in terminal. With no arguments DefaultAnalysisTerminal is used.
func AnalysisSettled(terminal ...ReportStatus) func(Analysis) bool {
	if len(terminal) == 0 {
		terminal = DefaultAnalysisTerminal
	}
	set := make(map[ReportStatus]struct{}, len(terminal))
	for _, st := range terminal {
		set[st] = struct{}{}
	}
	return func(a Analysis) bool {
		_, ok := set[a.Status]
		return ok
	}
}
