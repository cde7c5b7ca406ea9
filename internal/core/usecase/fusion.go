package usecase

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

const (
	vectorSourceBoost  = 1.0
	keywordSourceBoost = 0.9
	titleBoost         = 1.05
	priorityBoost      = 1.5
	lengthBoostDivisor = 500.0
)

// FuseCandidates deduplicates and re-scores both source lists into one
// ordered result set. The vector list is always processed first so the
// "keep the vector copy" dedup rule is deterministic regardless of which
// adapter returned first.
func FuseCandidates(
	vector, keyword []domain.Candidate,
	prioritizedURLs []string,
	k int,
	threshold float64,
) domain.FusedResult {
	if k <= 0 {
		k = 1
	}

	seen := make(map[uint64]struct{}, len(vector)+len(keyword))
	fused := make([]domain.Candidate, 0, len(vector)+len(keyword))
	appendList := func(candidates []domain.Candidate) {
		for _, c := range candidates {
			key := contentKey(c.Content)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			c.FinalScore = finalScore(c, prioritizedURLs)
			fused = append(fused, c)
		}
	}
	appendList(vector)
	appendList(keyword)

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FinalScore != fused[j].FinalScore {
			return fused[i].FinalScore > fused[j].FinalScore
		}
		if fused[i].Source != fused[j].Source {
			return fused[i].Source == domain.SourceVector
		}
		li, lj := len([]rune(fused[i].Content)), len([]rune(fused[j].Content))
		if li != lj {
			return li > lj
		}
		return fused[i].ID < fused[j].ID
	})

	if len(fused) > k {
		fused = fused[:k]
	}

	result := domain.FusedResult{
		Candidates:    fused,
		ThresholdUsed: threshold,
	}
	for _, c := range fused {
		switch c.Source {
		case domain.SourceVector:
			result.VectorCount++
		case domain.SourceKeyword:
			result.KeywordCount++
		}
		if c.RawScore > result.Confidence {
			result.Confidence = c.RawScore
		}
	}
	return result
}

// finalScore = raw × sourceBoost × lengthBoost × titleBoost × priorityBoost.
func finalScore(c domain.Candidate, prioritizedURLs []string) float64 {
	score := c.RawScore

	switch c.Source {
	case domain.SourceKeyword:
		score *= keywordSourceBoost
	default:
		score *= vectorSourceBoost
	}

	length := float64(len([]rune(c.Content)))
	lengthFactor := length / lengthBoostDivisor
	if lengthFactor > 1.0 {
		lengthFactor = 1.0
	}
	score *= lengthFactor

	if strings.TrimSpace(c.Title) != "" {
		score *= titleBoost
	}
	if matchesPrioritized(c.URL, prioritizedURLs) {
		score *= priorityBoost
	}
	return score
}

func matchesPrioritized(url string, prioritizedURLs []string) bool {
	if url == "" {
		return false
	}
	lowered := strings.ToLower(url)
	for _, p := range prioritizedURLs {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.Contains(lowered, p) || strings.Contains(p, lowered) {
			return true
		}
	}
	return false
}

// contentKey hashes normalized content: lowercased with whitespace collapsed,
// so formatting differences between backends do not defeat deduplication.
func contentKey(content string) uint64 {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return h.Sum64()
}
