package model

// SideEffectStatus is the outcome of a best-effort secondary write.
type SideEffectStatus string

const (
	SideEffectApplied                  SideEffectStatus = "applied"
	SideEffectSkippedMissingDependency SideEffectStatus = "skipped-missing-dependency"
	SideEffectFailed                   SideEffectStatus = "failed"
)

// SideEffect records what happened to a secondary write that must never
// fail the primary insert it accompanies.
type SideEffect struct {
	Name   string           `json:"name"`
	Status SideEffectStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Applied builds a successful side effect result.
func Applied(name string) SideEffect {
	return SideEffect{Name: name, Status: SideEffectApplied}
}

// SkippedMissingDependency builds a result for a write whose target
// (table, relation) does not exist in the store.
func SkippedMissingDependency(name string, err error) SideEffect {
	return SideEffect{Name: name, Status: SideEffectSkippedMissingDependency, Error: errString(err)}
}

// FailedSideEffect builds a result for a write that failed for any other reason.
func FailedSideEffect(name string, err error) SideEffect {
	return SideEffect{Name: name, Status: SideEffectFailed, Error: errString(err)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
