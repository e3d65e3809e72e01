package grading

import (
	"errors"
	"strconv"
)

// PassMark is the percentage at or above which a score counts as a pass.
const PassMark = 40.0

// AbsentRemark is recorded on ledger rows for students who did not sit.
const AbsentRemark = "Absent"

var ErrZeroMaxMarks = errors.New("max marks must be greater than zero")

// GradeResult holds computed grade information
type GradeResult struct {
	Grade       string `json:"grade"`
	GradeNumber int    `json:"grade_number"`
	Remark      string `json:"remark"`
}

// Grade maps a percentage to its band. Bands are closed on the lower edge:
// exactly 80 is grade 1.
func Grade(percentage float64) GradeResult {
	var number int
	var remark string

	switch {
	case percentage >= 80:
		number, remark = 1, "Excellent"
	case percentage >= 70:
		number, remark = 2, "Very Good"
	case percentage >= 65:
		number, remark = 3, "Good"
	case percentage >= 60:
		number, remark = 4, "High Average"
	case percentage >= 55:
		number, remark = 5, "Average"
	case percentage >= 50:
		number, remark = 6, "Low Average"
	case percentage >= 45:
		number, remark = 7, "Pass"
	case percentage >= 40:
		number, remark = 8, "Pass"
	default:
		number, remark = 9, "Fail"
	}

	return GradeResult{
		Grade:       strconv.Itoa(number),
		GradeNumber: number,
		Remark:      remark,
	}
}

// Percentage returns total as a percentage of maxMarks.
func Percentage(total, maxMarks float64) (float64, error) {
	if maxMarks <= 0 {
		return 0, ErrZeroMaxMarks
	}
	return total / maxMarks * 100, nil
}

// Passed reports whether percentage meets the pass mark.
func Passed(percentage float64) bool {
	return percentage >= PassMark
}
