package categorize

import (
	"errors"
	"fmt"
)

// Kind classifies a failed run.
type Kind string

const (
	KindNoInput           Kind = "no_input"
	KindInvalidInput      Kind = "invalid_input"
	KindOracleUnavailable Kind = "oracle_unavailable"
	KindOracleMalformed   Kind = "oracle_malformed"
	KindPersistFailed     Kind = "persist_failed"
)

// Stage names a step of a run.
type Stage string

const (
	StageLoad                Stage = "load"
	StageSplit               Stage = "split"
	StageClassify            Stage = "classify"
	StageUpdateHistory       Stage = "update_history"
	StageProcessWeekly       Stage = "process_weekly"
	StageResolveDescriptions Stage = "resolve_descriptions"
	StageApply               Stage = "apply"
	StagePersist             Stage = "persist"
)

// RunError is the single terminal error of a failed run.
type RunError struct {
	Stage  Stage
	Kind   Kind
	Source string // source tag, when the failure is specific to one
	Err    error
}

func (e *RunError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("categorize %s (%s, source %s): %v", e.Stage, e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("categorize %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// KindOf returns the kind of a RunError anywhere in err's chain, or "".
func KindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func fail(stage Stage, kind Kind, source string, err error) *RunError {
	return &RunError{Stage: stage, Kind: kind, Source: source, Err: err}
}
