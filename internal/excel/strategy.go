package excel

import (
	"context"

	"sis-gradesync/internal/model"
)

// ParsingStrategy turns an uploaded file into grade rows.
type ParsingStrategy interface {
	Parse(ctx context.Context, data []byte) ([]model.GradeRow, error)
	Validate(ctx context.Context, grades []model.GradeRow) error
}

type ExcelStrategy struct {
	parser    *Parser
	validator *Validator
}

func NewExcelStrategy() *ExcelStrategy {
	return &ExcelStrategy{
		parser:    NewParser(),
		validator: NewValidator(),
	}
}

func (s *ExcelStrategy) Parse(ctx context.Context, data []byte) ([]model.GradeRow, error) {
	return s.parser.Parse(ctx, data)
}

func (s *ExcelStrategy) Validate(ctx context.Context, grades []model.GradeRow) error {
	return s.validator.Validate(ctx, grades)
}

// Load parses data and rejects the whole file if any row breaks the schema.
func Load(ctx context.Context, strategy ParsingStrategy, data []byte) ([]model.GradeRow, error) {
	rows, err := strategy.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := strategy.Validate(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}
