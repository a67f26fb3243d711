package chainstate

// CalculateBlockReward is the deterministic halving schedule: the initial
// subsidy shifted right once per completed halving interval.
func CalculateBlockReward(height int32, initial int64, halvingInterval int32) int64 {
	if height < 0 || halvingInterval <= 0 {
		return 0
	}
	halvings := height / halvingInterval
	if halvings >= 63 {
		return 0
	}
	return initial >> uint(halvings)
}
