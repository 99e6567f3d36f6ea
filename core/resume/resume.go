// Package resume defines the resume draft: a student's personal information, education,
// work experience and free-text sections.
package resume

import (
	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/user"
)

// Education statuses
const (
	StatusEnrolled           = "enrolled"
	StatusGraduated          = "graduated"
	StatusExpectedGraduation = "expected_graduation"
	StatusWithdrawn          = "withdrawn"
)

const Table = "resumes"

type PersonalInfo struct {
	FullName       string `json:"full_name" validate:"max=100"`
	FullNameKana   string `json:"full_name_kana" validate:"max=100"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone" validate:"omitempty,max=20,phone"`
	Birthdate      string `json:"birthdate" validate:"omitempty,datetime=2006-01-02"`
	Address        string `json:"address" validate:"max=200"`
	University     string `json:"university" validate:"max=100"`
	Faculty        string `json:"faculty" validate:"max=100"`
	GraduationYear int    `json:"graduation_year" validate:"omitempty,min=1950,max=2100"`
}

type Education struct {
	School  string `json:"school" validate:"max=100"`
	Faculty string `json:"faculty" validate:"max=100"`
	Status  string `json:"status" validate:"omitempty,oneof=enrolled graduated expected_graduation withdrawn"`
	Start   string `json:"start" validate:"omitempty,yearmonth"`
	End     string `json:"end" validate:"omitempty,yearmonth"`
}

type WorkExperience struct {
	Company     string `json:"company" validate:"max=100"`
	Position    string `json:"position" validate:"max=100"`
	Start       string `json:"start" validate:"omitempty,yearmonth"`
	End         string `json:"end" validate:"omitempty,yearmonth"`
	Description string `json:"description" validate:"max=1000"`
}

type Resume struct {
	PersonalInfo   PersonalInfo     `json:"personal_info"`
	Education      []Education      `json:"education" validate:"max=10,dive"`
	WorkExperience []WorkExperience `json:"work_experience" validate:"max=20,dive"`
	Skills         []string         `json:"skills" validate:"max=50,dive,max=50"`
	Qualifications []string         `json:"qualifications" validate:"max=50,dive,max=100"`
	SelfPR         string           `json:"self_pr" validate:"max=2000"`
	DesiredRole    string           `json:"desired_role" validate:"max=100"`
}

// Kind is the resume draft kind.
var Kind = draft.Kind[Resume]{
	Name:      "resume",
	Table:     Table,
	Defaults:  Defaults,
	Normalize: Normalize,
	Progress:  Progress,
}

// Defaults returns an empty resume prefilled from the owner's account.
func Defaults(owner user.User) Resume {
	r := Resume{
		PersonalInfo: PersonalInfo{
			FullName: owner.Name,
			Email:    owner.Email,
		},
	}
	Normalize(&r)
	return r
}

// Normalize makes every list non-nil.
func Normalize(r *Resume) {
	if r.Education == nil {
		r.Education = []Education{}
	}
	if r.WorkExperience == nil {
		r.WorkExperience = []WorkExperience{}
	}
	if r.Skills == nil {
		r.Skills = []string{}
	}
	if r.Qualifications == nil {
		r.Qualifications = []string{}
	}
}

// Progress returns the share of the resume sections that are filled in, in percent.
func Progress(r Resume) int {
	pi := r.PersonalInfo
	filled := []bool{
		pi.FullName != "",
		pi.FullNameKana != "",
		pi.Email != "",
		pi.Phone != "",
		pi.Birthdate != "",
		pi.Address != "",
		pi.University != "" && pi.Faculty != "",
		pi.GraduationYear != 0,
		len(r.Education) > 0,
		len(r.WorkExperience) > 0,
		len(core.CleanStrings(r.Skills)) > 0,
		len(core.CleanStrings(r.Qualifications)) > 0,
		core.CleanString(r.SelfPR) != "",
		core.CleanString(r.DesiredRole) != "",
	}
	n := 0
	for _, ok := range filled {
		if ok {
			n++
		}
	}
	return n * 100 / len(filled)
}
