// Package placeholder tracks mask placeholders ([MASK]) between the masking
// step and the fill step of a correction pass. The classifier and the fill
// predictor tokenize the masked text independently, so the masks found in
// the predictor's tokens are matched against its predictions here, any
// disagreement is reported instead of guessed at, and the predictions are
// written back into the classifier-side slots with Apply.
package placeholder

import (
	"slices"
	"strings"
)

// DefaultMask is the BERT mask token.
const DefaultMask = "[MASK]"

// Positions returns the indices of toks equal to mask, in order.
func Positions(toks []string, mask string) []int {
	var idx []int
	for i, tok := range toks {
		if tok == mask {
			idx = append(idx, i)
		}
	}
	return idx
}

// Outcome describes how predictions were applied to a token sequence.
type Outcome struct {
	// Tokens is the filled sequence.
	Tokens []string
	// Masks is the number of mask tokens found.
	Masks int
	// Unresolved lists mask indices that had no prediction; those tokens
	// are left as the literal mask.
	Unresolved []int
	// Ignored lists prediction indices that did not point at a mask.
	Ignored []int
	// Values holds the prediction for each mask in order, or "" where the
	// mask is unresolved.
	Values []string
}

// Clean reports whether every mask was filled and every prediction used.
func (o Outcome) Clean() bool {
	return len(o.Unresolved) == 0 && len(o.Ignored) == 0
}

// Fill substitutes each mask in toks with predictions[index]. toks is not
// modified.
func Fill(toks []string, mask string, predictions map[int]string) Outcome {
	out := Outcome{Tokens: slices.Clone(toks)}

	for _, i := range Positions(toks, mask) {
		out.Masks++
		pred, ok := predictions[i]
		out.Values = append(out.Values, pred)
		if !ok || pred == "" {
			out.Unresolved = append(out.Unresolved, i)
			continue
		}
		out.Tokens[i] = pred
	}

	for i := range predictions {
		if i < 0 || i >= len(toks) || toks[i] != mask {
			out.Ignored = append(out.Ignored, i)
		}
	}
	slices.Sort(out.Ignored)

	return out
}

// Apply writes values into the mask slots of slots, left to right. Slots
// without a value, or with an empty one, keep the literal mask. slots is
// not modified.
func Apply(slots []string, mask string, values []string) []string {
	out := slices.Clone(slots)
	for k, i := range Positions(slots, mask) {
		if k < len(values) && values[k] != "" {
			out[i] = values[k]
		}
	}
	return out
}

// Residual counts literal masks remaining in text.
func Residual(text, mask string) int {
	if mask == "" {
		return 0
	}
	return strings.Count(text, mask)
}
