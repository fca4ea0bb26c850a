package domain

// ratingPercent maps Observatory letter grades to the percentage used for ranking.
var ratingPercent = map[string]int{
	"A+": 97,
	"A":  93,
	"A-": 90,
	"B+": 87,
	"B":  83,
	"B-": 80,
	"C+": 77,
	"C":  73,
	"C-": 70,
	"D+": 67,
	"D":  63,
	"D-": 60,
	"F":  50,
}

// RatingToPercent converts a letter grade, unknown grades score 0.
func RatingToPercent(rating string) int {
	return ratingPercent[rating]
}
