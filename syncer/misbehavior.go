package syncer

// MaxMisbehaviorScore is the punishment value that guarantees an
// immediate close (spec.md §4.5, §3 "MisbehaviorScore").
const MaxMisbehaviorScore = 1 << 30

// Reasons used by the core when calling PeerManager.Punish. The
// numeric scores for validator-reported reasons are supplied by the
// chain store itself (ValidatorRejection.Score), not this table.
const (
	ReasonInvalidMeasurementResponse = "invalid response (measurement)"
	ReasonInvalidAncestorHeader      = "invalid header (ancestor search)"
	ReasonHeaderNotMatchSequence     = "header not match sequence"
	ReasonInvalidGenesisBlock        = "invalid-genesis-block"
	ReasonEmptyBlockBatch            = "empty block-batch response"
	ReasonOutOfSequenceBlock         = "out of sequence block"
)

// misbehaviorTable maps every core-originated reason to its score.
// All of the core's own violations are fatal (MAX); only
// validator-reported rejections carry a variable score, and those are
// never looked up here.
var misbehaviorTable = map[string]int{
	ReasonInvalidMeasurementResponse: MaxMisbehaviorScore,
	ReasonInvalidAncestorHeader:      MaxMisbehaviorScore,
	ReasonHeaderNotMatchSequence:     MaxMisbehaviorScore,
	ReasonInvalidGenesisBlock:        MaxMisbehaviorScore,
	ReasonEmptyBlockBatch:            MaxMisbehaviorScore,
	ReasonOutOfSequenceBlock:         MaxMisbehaviorScore,
}

// scoreFor returns the score the core assigns a given reason. It
// panics on an unregistered reason — every call site in this package
// uses one of the Reason constants above.
func scoreFor(reason string) int {
	score, ok := misbehaviorTable[reason]
	if !ok {
		panic("syncer: unregistered misbehavior reason: " + reason)
	}
	return score
}
