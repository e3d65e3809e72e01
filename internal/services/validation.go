package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs struct-tag validation and folds failures into ErrInvalidInput.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), ErrInvalidInput)
}

// flexFloat accepts a JSON number or a numeric string, as older clients
// serialise maxMarks either way.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("maxMarks must be numeric")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("maxMarks %q is not numeric", s)
	}
	*f = flexFloat(n)
	return nil
}

type subjectRecord struct {
	SubjectID string    `json:"subjectId"`
	Name      string    `json:"name"`
	MaxMarks  flexFloat `json:"maxMarks"`
}

// ParseSubjectsBlob reads the serialized subject list older clients send
// ({subjectId, name, maxMarks} records) into structured exam subjects.
func ParseSubjectsBlob(blob string) ([]models.ExamSubject, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil, nil
	}
	var records []subjectRecord
	if err := json.Unmarshal([]byte(blob), &records); err != nil {
		return nil, invalidInput("malformed subjects: %v", err)
	}
	subjects := make([]models.ExamSubject, 0, len(records))
	for i, rec := range records {
		id, err := uuid.Parse(rec.SubjectID)
		if err != nil {
			return nil, invalidInput("subjects[%d]: invalid subjectId %q", i, rec.SubjectID)
		}
		subjects = append(subjects, models.ExamSubject{
			SubjectID: id,
			Name:      rec.Name,
			MaxMarks:  float64(rec.MaxMarks),
		})
	}
	return subjects, nil
}

// validateSubjects checks each subject and that no subject appears twice.
func validateSubjects(subjects []models.ExamSubject) error {
	seen := make(map[uuid.UUID]bool, len(subjects))
	for i := range subjects {
		if err := validateStruct(&subjects[i]); err != nil {
			return fmt.Errorf("subjects[%d]: %w", i, err)
		}
		if seen[subjects[i].SubjectID] {
			return invalidInput("subject %s listed more than once", subjects[i].SubjectID)
		}
		seen[subjects[i].SubjectID] = true
	}
	return nil
}
