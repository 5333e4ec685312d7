package dex

// UnknownGeneration is returned for ids outside every known range.
const UnknownGeneration = 0

type generationRange struct {
	generation int
	first      int
	last       int
}

var generationRanges = []generationRange{
	{generation: 1, first: 1, last: 151},
	{generation: 2, first: 152, last: 251},
	{generation: 3, first: 252, last: 386},
	{generation: 4, first: 387, last: 493},
	{generation: 5, first: 494, last: 649},
	{generation: 6, first: 650, last: 721},
	{generation: 7, first: 722, last: 809},
	{generation: 8, first: 810, last: 898},
	{generation: 9, first: 899, last: 1010},
}

// Generation maps a national dex number to its generation bucket.
func Generation(id int) int {
	for _, r := range generationRanges {
		if id >= r.first && id <= r.last {
			return r.generation
		}
	}
	return UnknownGeneration
}
