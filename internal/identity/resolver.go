// Package identity maps local users and courses to the identifiers the SIS knows.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	pkgerrors "sis-gradesync/pkg/errors"
)

type Resolver interface {
	User(ctx context.Context, userID int64) (*model.User, error)
	Course(ctx context.Context, courseID int64) (*model.Course, error)
	// UserExternalID fails with ErrMissingIdentity when the user has no SIS id.
	UserExternalID(ctx context.Context, userID int64) (string, error)
	// CourseExternalID is the SIS course id for one student. Crosslisted
	// enrolments carry their own id; everyone else gets the course idnumber.
	CourseExternalID(ctx context.Context, courseID, userID int64) (string, error)
}

// Directory resolves identities from the local users, courses and
// course_enrolments tables. Enrolment mappings are cached per course.
type Directory struct {
	db  *sql.DB
	log zerolog.Logger

	mu    sync.Mutex
	cache map[int64]map[int64]string
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{
		db:    db,
		log:   logger.Component("identity"),
		cache: make(map[int64]map[int64]string),
	}
}

func (d *Directory) User(ctx context.Context, userID int64) (*model.User, error) {
	query := `SELECT id, idnumber, email, fullname FROM users WHERE id = ?`

	var u model.User
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.ExternalID, &u.Email, &u.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, pkgerrors.ErrMissingIdentity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return &u, nil
}

func (d *Directory) Course(ctx context.Context, courseID int64) (*model.Course, error) {
	query := `SELECT id, idnumber, fullname, start_date, end_date FROM courses WHERE id = ?`

	var c model.Course
	err := d.db.QueryRowContext(ctx, query, courseID).Scan(&c.ID, &c.ExternalID, &c.FullName, &c.StartDate, &c.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course %d: %w", courseID, pkgerrors.ErrMissingIdentity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course %d: %w", courseID, err)
	}
	return &c, nil
}

func (d *Directory) UserExternalID(ctx context.Context, userID int64) (string, error) {
	u, err := d.User(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.ExternalID == "" {
		return "", fmt.Errorf("user %d: %w", userID, pkgerrors.ErrMissingIdentity)
	}
	return u.ExternalID, nil
}

func (d *Directory) CourseExternalID(ctx context.Context, courseID, userID int64) (string, error) {
	mapping, err := d.enrolments(ctx, courseID)
	if err != nil {
		return "", err
	}
	if id := mapping[userID]; id != "" {
		return id, nil
	}

	c, err := d.Course(ctx, courseID)
	if err != nil {
		return "", err
	}
	if c.ExternalID == "" {
		return "", fmt.Errorf("course %d: %w", courseID, pkgerrors.ErrMissingIdentity)
	}
	return c.ExternalID, nil
}

func (d *Directory) enrolments(ctx context.Context, courseID int64) (map[int64]string, error) {
	d.mu.Lock()
	mapping, ok := d.cache[courseID]
	d.mu.Unlock()
	if ok {
		return mapping, nil
	}

	query := `SELECT user_id, external_course_id FROM course_enrolments
		WHERE course_id = ? AND external_course_id <> ''`

	rows, err := d.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrolments for course %d: %w", courseID, err)
	}
	defer rows.Close()

	mapping = make(map[int64]string)
	for rows.Next() {
		var userID int64
		var externalID string
		if err := rows.Scan(&userID, &externalID); err != nil {
			return nil, err
		}
		mapping[userID] = externalID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	d.log.Debug().Int64("course_id", courseID).Int("crosslisted", len(mapping)).Msg("Loaded enrolment mapping")

	d.mu.Lock()
	d.cache[courseID] = mapping
	d.mu.Unlock()
	return mapping, nil
}
