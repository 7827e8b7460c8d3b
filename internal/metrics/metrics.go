// Package metrics computes standard classification metrics for model
// evaluation: accuracy, per-class and weighted precision/recall/F1, the
// confusion matrix, and ROC AUC for the positive class.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

// Summary is a full evaluation over a labeled set.
type Summary struct {
	Classes   []string  `json:"class_names"`
	Accuracy  float64   `json:"accuracy"`
	Precision []float64 `json:"precision"`
	Recall    []float64 `json:"recall"`
	F1        []float64 `json:"f1"`
	Support   []int     `json:"support"`

	WeightedPrecision float64 `json:"precision_weighted"`
	WeightedRecall    float64 `json:"recall_weighted"`
	WeightedF1        float64 `json:"f1_weighted"`

	Confusion [][]int `json:"confusion_matrix"`
	AUC       float64 `json:"auc"`
}

// Evaluate computes the summary. yTrue and yPred are class indices;
// scores are the predicted probabilities of the positive class, used for
// AUC, and may be nil.
func Evaluate(yTrue, yPred []int, scores []float64, classes []string, positive int) (*Summary, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("length mismatch: %d labels, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("empty evaluation set")
	}

	n := len(classes)
	s := &Summary{
		Classes:   classes,
		Precision: make([]float64, n),
		Recall:    make([]float64, n),
		F1:        make([]float64, n),
		Support:   make([]int, n),
		Confusion: ConfusionMatrix(yTrue, yPred, n),
	}

	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	s.Accuracy = float64(correct) / float64(len(yTrue))

	for c := 0; c < n; c++ {
		var tp, fp, fn int
		for i := range yTrue {
			switch {
			case yPred[i] == c && yTrue[i] == c:
				tp++
			case yPred[i] == c:
				fp++
			case yTrue[i] == c:
				fn++
			}
		}
		s.Support[c] = tp + fn
		if tp+fp > 0 {
			s.Precision[c] = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			s.Recall[c] = float64(tp) / float64(tp+fn)
		}
		if s.Precision[c]+s.Recall[c] > 0 {
			s.F1[c] = 2 * s.Precision[c] * s.Recall[c] / (s.Precision[c] + s.Recall[c])
		}
	}

	total := float64(len(yTrue))
	for c := 0; c < n; c++ {
		w := float64(s.Support[c]) / total
		s.WeightedPrecision += w * s.Precision[c]
		s.WeightedRecall += w * s.Recall[c]
		s.WeightedF1 += w * s.F1[c]
	}

	if scores != nil {
		if len(scores) != len(yTrue) {
			return nil, fmt.Errorf("length mismatch: %d labels, %d scores", len(yTrue), len(scores))
		}
		s.AUC = ROCAUC(yTrue, scores, positive)
	}

	return s, nil
}

// ConfusionMatrix builds the n x n matrix, rows true, columns predicted.
func ConfusionMatrix(yTrue, yPred []int, n int) [][]int {
	cm := make([][]int, n)
	for i := range cm {
		cm[i] = make([]int, n)
	}
	for i := range yTrue {
		if yTrue[i] >= 0 && yTrue[i] < n && yPred[i] >= 0 && yPred[i] < n {
			cm[yTrue[i]][yPred[i]]++
		}
	}
	return cm
}

// ROCAUC computes the area under the ROC curve by the trapezoidal rule
// over score thresholds. Ties are handled by grouping equal scores.
func ROCAUC(yTrue []int, scores []float64, positive int) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(yTrue))
	nPos, nNeg := 0, 0
	for i := range yTrue {
		isPos := yTrue[i] == positive
		pairs[i] = pair{scores[i], isPos}
		if isPos {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	var auc, tpPrev, fpPrev float64
	var tp, fp float64
	i := 0
	for i < len(pairs) {
		// Consume all pairs with an equal score as one threshold step.
		score := pairs[i].score
		for i < len(pairs) && pairs[i].score == score {
			if pairs[i].pos {
				tp++
			} else {
				fp++
			}
			i++
		}
		auc += (fp - fpPrev) * (tp + tpPrev) / 2
		tpPrev, fpPrev = tp, fp
	}

	return auc / (float64(nPos) * float64(nNeg))
}

// ClassificationReport renders a per-class table in the familiar
// precision/recall/f1/support layout.
func (s *Summary) ClassificationReport() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "\tprecision\trecall\tf1-score\tsupport")
	for i, class := range s.Classes {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%d\n",
			class, s.Precision[i], s.Recall[i], s.F1[i], s.Support[i])
	}
	fmt.Fprintln(w)
	total := 0
	for _, sup := range s.Support {
		total += sup
	}
	fmt.Fprintf(w, "accuracy\t\t\t%.4f\t%d\n", s.Accuracy, total)
	fmt.Fprintf(w, "weighted avg\t%.4f\t%.4f\t%.4f\t%d\n",
		s.WeightedPrecision, s.WeightedRecall, s.WeightedF1, total)
	w.Flush()
	return b.String()
}
