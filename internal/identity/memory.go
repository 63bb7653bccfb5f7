package identity

import (
	"context"
	"fmt"
	"sync"

	"sis-gradesync/internal/model"
	pkgerrors "sis-gradesync/pkg/errors"
)

// MemoryDirectory is a Resolver backed by maps.
type MemoryDirectory struct {
	mu         sync.RWMutex
	users      map[int64]model.User
	courses    map[int64]model.Course
	enrolments map[int64]map[int64]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:      make(map[int64]model.User),
		courses:    make(map[int64]model.Course),
		enrolments: make(map[int64]map[int64]string),
	}
}

func (d *MemoryDirectory) AddUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) AddCourse(c model.Course) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.courses[c.ID] = c
}

// AddEnrolment maps a user in a crosslisted course to its own SIS course id.
func (d *MemoryDirectory) AddEnrolment(courseID, userID int64, externalCourseID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enrolments[courseID] == nil {
		d.enrolments[courseID] = make(map[int64]string)
	}
	d.enrolments[courseID][userID] = externalCourseID
}

func (d *MemoryDirectory) User(_ context.Context, userID int64) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, pkgerrors.ErrMissingIdentity)
	}
	return &u, nil
}

func (d *MemoryDirectory) Course(_ context.Context, courseID int64) (*model.Course, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("course %d: %w", courseID, pkgerrors.ErrMissingIdentity)
	}
	return &c, nil
}

func (d *MemoryDirectory) UserExternalID(ctx context.Context, userID int64) (string, error) {
	u, err := d.User(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.ExternalID == "" {
		return "", fmt.Errorf("user %d: %w", userID, pkgerrors.ErrMissingIdentity)
	}
	return u.ExternalID, nil
}

func (d *MemoryDirectory) CourseExternalID(ctx context.Context, courseID, userID int64) (string, error) {
	d.mu.RLock()
	id := d.enrolments[courseID][userID]
	d.mu.RUnlock()
	if id != "" {
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
