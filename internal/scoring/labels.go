package scoring

import "strconv"

var ratingLabels = [...]string{
	"Non observé",
	"Émergent",
	"En cours",
	"Acquis",
	"Maîtrisé",
	"Expert",
}

// RatingLabel returns the display label of a rating on the six-point scale.
// Out-of-range values are rendered as their number.
func RatingLabel(rating int) string {
	if rating < 0 || rating >= len(ratingLabels) {
		return strconv.Itoa(rating)
	}
	return ratingLabels[rating]
}
