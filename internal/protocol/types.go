package protocol

// UsageStat carries token usage through handler return paths.
type UsageStat struct {
	InputTokens  int
	OutputTokens int
}

// NewUsageStat builds a UsageStat.
func NewUsageStat(input, output int) UsageStat {
	return UsageStat{InputTokens: input, OutputTokens: output}
}

// ZeroUsageStat is the empty usage value.
func ZeroUsageStat() UsageStat {
	return UsageStat{}
}
