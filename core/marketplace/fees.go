package marketplace

// PlatformFee computes the platform's cut of a task budget using floor
// rounding: fee = floor(budget * percent / 100).
func PlatformFee(budgetCredits int64, feePercent int) int64 {
	if budgetCredits <= 0 || feePercent <= 0 {
		return 0
	}
	return budgetCredits * int64(feePercent) / 100
}

// SplitPayment returns the agent payment and platform fee for a completed
// task budget. payment + fee always equals the budget.
func SplitPayment(budgetCredits int64, feePercent int) (payment, fee int64) {
	fee = PlatformFee(budgetCredits, feePercent)
	return budgetCredits - fee, fee
}
