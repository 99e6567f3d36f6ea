// Package selfanalysis defines the self-analysis notes draft.
package selfanalysis

import (
	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/user"
)

const Table = "self_analyses"

type Episode struct {
	Title    string `json:"title" validate:"max=100"`
	Period   string `json:"period" validate:"max=50"`
	Detail   string `json:"detail" validate:"max=2000"`
	Learning string `json:"learning" validate:"max=1000"`
}

type SelfAnalysis struct {
	Motivation string    `json:"motivation" validate:"max=2000"`
	Strengths  []string  `json:"strengths" validate:"max=20,dive,max=200"`
	Weaknesses []string  `json:"weaknesses" validate:"max=20,dive,max=200"`
	Values     []string  `json:"values" validate:"max=20,dive,max=200"`
	Episodes   []Episode `json:"episodes" validate:"max=20,dive"`
	Memo       string    `json:"memo" validate:"max=5000"`
}

var Kind = draft.Kind[SelfAnalysis]{
	Name:      "self-analysis",
	Table:     Table,
	Defaults:  func(user.User) SelfAnalysis { return SelfAnalysis{} },
	Normalize: Normalize,
	Progress:  Progress,
}

func Normalize(s *SelfAnalysis) {
	if s.Strengths == nil {
		s.Strengths = []string{}
	}
	if s.Weaknesses == nil {
		s.Weaknesses = []string{}
	}
	if s.Values == nil {
		s.Values = []string{}
	}
	if s.Episodes == nil {
		s.Episodes = []Episode{}
	}
}

// Progress counts an episode as written once it has a title and a detail.
func Progress(s SelfAnalysis) int {
	episodes := 0
	for _, ep := range s.Episodes {
		if core.CleanString(ep.Title) != "" && core.CleanString(ep.Detail) != "" {
			episodes++
		}
	}
	filled := []bool{
		core.CleanString(s.Motivation) != "",
		len(core.CleanStrings(s.Strengths)) > 0,
		len(core.CleanStrings(s.Weaknesses)) > 0,
		len(core.CleanStrings(s.Values)) > 0,
		episodes > 0,
	}
	n := 0
	for _, ok := range filled {
		if ok {
			n++
		}
	}
	return n * 100 / len(filled)
}
