package scrape

import (
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

// ScoreQuality estimates how useful a page's text is as a research source,
// in [0, 1]. The score combines:
//   - length: more text is better, saturating around a few thousand words
//   - sentence shape: mean sentence length near natural prose (10-30 words)
//     scores high; link farms and data dumps fall outside it
//   - variance: natural prose varies; near-zero variance indicates
//     boilerplate or tabular junk
//   - an academic-domain bonus
func ScoreQuality(text string, academic bool) float64 {
	words := strings.Fields(text)
	if len(words) < 30 {
		return 0
	}

	// Length component saturates at ~3000 words.
	lengthScore := math.Min(1, math.Log1p(float64(len(words)))/math.Log1p(3000))

	sentences := splitSentences(text)
	lengths := make([]float64, 0, len(sentences))
	for _, s := range sentences {
		if n := len(strings.Fields(s)); n > 0 {
			lengths = append(lengths, float64(n))
		}
	}

	shapeScore := 0.5
	varianceScore := 0.5
	if len(lengths) >= 3 {
		mean, _ := stats.Mean(lengths)
		sd, _ := stats.StandardDeviation(lengths)

		// Natural prose averages 10-30 words per sentence.
		switch {
		case mean >= 10 && mean <= 30:
			shapeScore = 1
		case mean >= 5 && mean <= 45:
			shapeScore = 0.7
		default:
			shapeScore = 0.2
		}

		// Dead-flat sentence lengths look machine-generated.
		if sd >= 3 {
			varianceScore = 1
		} else if sd >= 1 {
			varianceScore = 0.6
		} else {
			varianceScore = 0.2
		}
	}

	score := 0.45*lengthScore + 0.35*shapeScore + 0.2*varianceScore
	if academic {
		score = math.Min(1, score+0.1)
	}
	return score
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}
