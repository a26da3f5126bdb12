package segment

// Phrase is the built-in cut table for "I will give my love an apple".
// Ranks weight each word for deviation scoring; they are not durations.
var Phrase = []CutPoint{
	{Label: "i", StartMs: 2000, EndMs: 2350, Rank: 0.35},
	{Label: "will", StartMs: 2350, EndMs: 3000, Rank: 0.65},
	{Label: "give", StartMs: 3000, EndMs: 3900, Rank: 0.9},
	{Label: "my", StartMs: 4000, EndMs: 5000, Rank: 1.0},
	{Label: "love", StartMs: 5000, EndMs: 5500, Rank: 0.5},
	{Label: "an", StartMs: 5500, EndMs: 6100, Rank: 0.6},
	// Earlier versions of this table had 1100, read as a typo for 1.1. With
	// 1.1 the phrase's fold target is 4.4 instead of about 1103, so no grade
	// reaches the default 4.5 threshold and every default run spends its
	// whole iteration cap. A score file can restore 1100.
	{Label: "apple", StartMs: 6100, EndMs: 7200, Rank: 1.1},
}
