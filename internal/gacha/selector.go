package gacha

import (
	"math"

	"gachalab/internal/models"
)

func selectionWeight(p models.Prize) float64 {
	w := p.Weight
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 1 {
		return 1
	}
	return w
}

// TotalWeight sums the floored selection weights.
func TotalWeight(prizes []models.Prize) float64 {
	total := 0.0
	for _, p := range prizes {
		total += selectionWeight(p)
	}
	return total
}

// Choose scales a uniform draw r in [0,1) onto the cumulative weights.
func Choose(prizes []models.Prize, r float64) *models.Prize {
	return ChooseAt(prizes, r*TotalWeight(prizes))
}

// ChooseAt walks the list subtracting weights from pick and returns the first
// prize that drives it negative, or the last prize if rounding leaves none.
func ChooseAt(prizes []models.Prize, pick float64) *models.Prize {
	if len(prizes) == 0 {
		return nil
	}
	for i := range prizes {
		pick -= selectionWeight(prizes[i])
		if pick < 0 {
			return &prizes[i]
		}
	}
	return &prizes[len(prizes)-1]
}
