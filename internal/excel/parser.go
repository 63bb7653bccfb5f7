// Package excel reads grade rows from uploaded spreadsheets.
package excel

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"sis-gradesync/internal/model"
	"sis-gradesync/pkg/errors"
)

const dateLayout = "2006-01-02"

var requiredColumns = []string{"course_id", "student_id", "grade_kind", "grade"}

var kindNames = map[string]model.GradeKind{
	"midterm1": model.GradeKindMidterm1,
	"midterm2": model.GradeKindMidterm2,
	"midterm3": model.GradeKindMidterm3,
	"midterm4": model.GradeKindMidterm4,
	"midterm5": model.GradeKindMidterm5,
	"midterm6": model.GradeKindMidterm6,
	"final":    model.GradeKindFinal,
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads the first sheet. The header row names the columns; order does
// not matter and unknown columns are ignored.
func (p *Parser) Parse(ctx context.Context, data []byte) ([]model.GradeRow, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFileFormat, err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ErrInvalidFileFormat
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	if len(rows) < 2 { // Header + at least one data row
		return nil, errors.ErrInvalidFileFormat
	}

	columnMap := make(map[string]int)
	for i, col := range rows[0] {
		columnMap[strings.ToLower(strings.TrimSpace(col))] = i
	}

	for _, col := range requiredColumns {
		if _, exists := columnMap[col]; !exists {
			return nil, fmt.Errorf("%w: missing required column: %s", errors.ErrInvalidFileFormat, col)
		}
	}

	var grades []model.GradeRow
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}

		grade, err := p.parseRow(row, columnMap)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}

		grades = append(grades, *grade)
	}

	return grades, nil
}

func (p *Parser) parseRow(row []string, columnMap map[string]int) (*model.GradeRow, error) {
	getValue := func(colName string) string {
		if idx, exists := columnMap[colName]; exists && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	courseID, err := parseID("course_id", getValue("course_id"))
	if err != nil {
		return nil, err
	}
	studentID, err := parseID("student_id", getValue("student_id"))
	if err != nil {
		return nil, err
	}
	kind, err := parseKind(getValue("grade_kind"))
	if err != nil {
		return nil, err
	}

	grade := &model.GradeRow{
		CourseID:  courseID,
		StudentID: studentID,
		GradeKind: kind,
		Grade:     getValue("grade"),
	}

	if v := getValue("incomplete_grade"); v != "" {
		grade.IncompleteGrade = &v
	}
	if grade.IncompleteDeadline, err = parseDate("incomplete_deadline", getValue("incomplete_deadline")); err != nil {
		return nil, err
	}
	if grade.LastAttended, err = parseDate("last_attended", getValue("last_attended")); err != nil {
		return nil, err
	}
	if v := getValue("confirmed"); v != "" {
		confirmed, err := parseBool(v)
		if err != nil {
			return nil, err
		}
		grade.Confirmed = confirmed
	}

	return grade, nil
}

func parseID(field, v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", field, v)
	}
	return id, nil
}

func parseKind(v string) (model.GradeKind, error) {
	if v == "" {
		return 0, fmt.Errorf("grade_kind is required")
	}
	if kind, ok := kindNames[strings.ToLower(v)]; ok {
		return kind, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid grade_kind: %s", v)
	}
	return model.GradeKind(n), nil
}

func parseDate(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", field, v)
	}
	return &t, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid confirmed: %s", v)
	}
	return b, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
