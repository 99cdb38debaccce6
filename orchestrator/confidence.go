package orchestrator

import (
	"legalia-backend/models"
	"legalia-backend/retrieval"
)

// Confidence builds the per-agent confidence map. A nil visual report, or one
// with nothing analyzed, yields a null visual score.
func Confidence(coord *models.CoordinatorReport, prec *models.PrecedentReport, visual *models.VisualReport, args *models.ArgumentsReport) models.ConfidenceScores {
	scores := models.ConfidenceScores{}
	if coord != nil {
		scores.Coordinator = coord.Confidence
	}
	if prec != nil {
		scores.Precedent = prec.Confidence
	}
	if visual != nil && len(visual.Analysis) > 0 {
		v := visual.Confidence
		scores.VisualAnalysis = &v
	}
	if args != nil {
		scores.Arguments = args.Confidence
	}
	scores.Overall = Overall(scores)
	return scores
}

// Overall is the mean of the positive component scores, rounded to two
// decimals, or 0 when none is positive.
func Overall(s models.ConfidenceScores) float64 {
	components := []float64{s.Coordinator, s.Precedent, s.Arguments}
	if s.VisualAnalysis != nil {
		components = append(components, *s.VisualAnalysis)
	}

	var sum float64
	n := 0
	for _, c := range components {
		if c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0
	}
	overall := retrieval.Round(sum/float64(n), 2)
	if overall > 1 {
		return 1
	}
	return overall
}
