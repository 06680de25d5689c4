package entity

// Stage is a state of a pipeline run.
type Stage string

const (
	StageInit                Stage = "init"
	StageFramesExtracted     Stage = "frames_extracted"
	StageFeaturesExtracted   Stage = "features_extracted"
	StageMatched             Stage = "matched"
	StageSparseReconstructed Stage = "sparse_reconstructed"
	StageUndistorted         Stage = "undistorted"
	StageDenseReconstructed  Stage = "dense_reconstructed"
	StageFused               Stage = "fused"
	StageMeshed              Stage = "meshed"
	StageDone                Stage = "done"
	StageFailed              Stage = "failed"
)

// stageOrder is the only legal success path. Failed is reachable from any
// non-terminal stage and is not part of it.
var stageOrder = []Stage{
	StageInit,
	StageFramesExtracted,
	StageFeaturesExtracted,
	StageMatched,
	StageSparseReconstructed,
	StageUndistorted,
	StageDenseReconstructed,
	StageFused,
	StageMeshed,
	StageDone,
}

// Stages returns the success path in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

func (s Stage) String() string { return string(s) }

func (s Stage) position() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s on the success path, or s itself
// when s is terminal or unknown.
func (s Stage) Next() Stage {
	i := s.position()
	if i < 0 || i == len(stageOrder)-1 {
		return s
	}
	return stageOrder[i+1]
}

// IsTerminal reports whether no transition may leave s.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageFailed || s.position() >= 0
}

// CanTransition reports whether moving from s to the given stage is legal.
func (s Stage) CanTransition(to Stage) bool {
	if s.IsTerminal() || !s.Valid() {
		return false
	}
	if to == StageFailed {
		return true
	}
	return s.Next() == to
}
