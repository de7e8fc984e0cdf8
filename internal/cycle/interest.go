package cycle

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// InterestAnswer is the three-valued reading of the interest-capture field.
type InterestAnswer int

const (
	// AnswerAbsent means the field was blank or missing.
	AnswerAbsent InterestAnswer = iota
	// AnswerYes means the field held any non-negative value.
	AnswerYes
	// AnswerNo means the field held a configured negative sentinel.
	AnswerNo
)

func (a InterestAnswer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	default:
		return "absent"
	}
}

// InterestPolicy interprets raw interest values and decides what an absent
// answer means.
type InterestPolicy struct {
	Negative              map[string]bool
	AbsentMeansInterested bool
}

// NewInterestPolicy builds a policy from raw negative sentinels.
func NewInterestPolicy(negative []string, absentMeansInterested bool) InterestPolicy {
	p := InterestPolicy{
		Negative:              make(map[string]bool, len(negative)),
		AbsentMeansInterested: absentMeansInterested,
	}
	for _, v := range negative {
		if n := normalizeToken(v); n != "" {
			p.Negative[n] = true
		}
	}
	return p
}

// Interpret classifies a raw attribute value.
func (p InterestPolicy) Interpret(raw string) InterestAnswer {
	n := normalizeToken(raw)
	switch {
	case n == "":
		return AnswerAbsent
	case p.Negative[n]:
		return AnswerNo
	default:
		return AnswerYes
	}
}

// Interested maps an answer to the interest flag.
func (p InterestPolicy) Interested(a InterestAnswer) bool {
	switch a {
	case AnswerNo:
		return false
	case AnswerYes:
		return true
	default:
		return p.AbsentMeansInterested
	}
}

// combineAnswers folds the answers of several interest documents.
// Any explicit no wins, then any explicit yes.
func combineAnswers(answers []InterestAnswer) InterestAnswer {
	out := AnswerAbsent
	for _, a := range answers {
		if a == AnswerNo {
			return AnswerNo
		}
		if a == AnswerYes {
			out = AnswerYes
		}
	}
	return out
}

// normalizeToken trims, strips diacritics and case-folds s so "Não", "NAO"
// and " nao " compare equal.
func normalizeToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
