// Package linker pairs names from two catalogs (e.g. locally installed
// games against wishlist entries) with an exact pass followed by a
// best-similarity pass.
package linker

import (
	"legionlaunch/lib/textutil"

	"github.com/antzucaro/matchr"
)

type Link struct {
	Left        string
	Right       string
	Correlation float64
}

// CreateLinks matches every left name to at most one right name. Exact
// matches (after title normalization) are taken first with correlation
// 1, the remainder are paired by highest Jaro-Winkler similarity. Names
// with no plausible partner are left unmatched.
func CreateLinks(leftList, rightList []string) []Link {
	swapped := false
	if len(rightList) < len(leftList) {
		leftList, rightList = rightList, leftList
		swapped = true
	}

	var result []Link
	matchedLeft := make(map[string]struct{})
	matchedRight := make(map[string]struct{})

	emit := func(left, right string, correlation float64) {
		link := Link{Left: left, Right: right, Correlation: correlation}
		if swapped {
			link.Left, link.Right = link.Right, link.Left
		}
		result = append(result, link)
		matchedLeft[left] = struct{}{}
		matchedRight[right] = struct{}{}
	}

	for _, left := range leftList {
		for _, right := range rightList {
			if _, taken := matchedRight[right]; taken {
				continue
			}
			if textutil.NormalizeTitle(left) == textutil.NormalizeTitle(right) {
				emit(left, right, 1)
				break
			}
		}
	}

	for _, left := range leftList {
		if _, taken := matchedLeft[left]; taken {
			continue
		}

		var mostSimilarity float64
		var mostSimilarRight string

		for _, right := range rightList {
			if _, taken := matchedRight[right]; taken {
				continue
			}

			similarity := matchr.JaroWinkler(
				textutil.NormalizeTitle(left),
				textutil.NormalizeTitle(right),
				false,
			)
			if similarity > mostSimilarity {
				mostSimilarity = similarity
				mostSimilarRight = right
			}
		}

		if mostSimilarity > 0 {
			emit(left, mostSimilarRight, mostSimilarity)
		}
	}

	return result
}
