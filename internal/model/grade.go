package model

import (
	"encoding/json"
	"strings"
	"time"
)

type GradeKind int

const (
	GradeKindMidterm1 GradeKind = 1
	GradeKindMidterm2 GradeKind = 2
	GradeKindMidterm3 GradeKind = 3
	GradeKindMidterm4 GradeKind = 4
	GradeKindMidterm5 GradeKind = 5
	GradeKindMidterm6 GradeKind = 6
	GradeKindFinal    GradeKind = 9
)

func (k GradeKind) Valid() bool {
	return (k >= GradeKindMidterm1 && k <= GradeKindMidterm6) || k == GradeKindFinal
}

// GradeKey identifies the revision chain a record belongs to.
type GradeKey struct {
	CourseID  int64
	StudentID int64
	Kind      GradeKind
}

// GradeRecord is one revision of a student's grade as it moves through the
// submission lifecycle.
type GradeRecord struct {
	ID        int64     `json:"id" db:"id"`
	CourseID  int64     `json:"course_id" db:"course_id"`
	StudentID int64     `json:"student_id" db:"student_id"`
	GradeKind GradeKind `json:"grade_kind" db:"grade_kind"`
	Revision  int       `json:"revision" db:"revision"`

	SubmitterID int64 `json:"submitter_id" db:"submitter_id"`

	CourseExternalID    string `json:"course_external_id" db:"course_external_id"`
	StudentExternalID   string `json:"student_external_id" db:"student_external_id"`
	SubmitterExternalID string `json:"submitter_external_id" db:"submitter_external_id"`

	Grade              string     `json:"grade" db:"grade"`
	IncompleteGrade    *string    `json:"incomplete_grade,omitempty" db:"incomplete_grade"`
	IncompleteDeadline *time.Time `json:"incomplete_deadline,omitempty" db:"incomplete_deadline"`
	LastAttended       *time.Time `json:"last_attended,omitempty" db:"last_attended"`

	// Confirmed is set only on the request that submits the grade. It is never stored.
	Confirmed bool `json:"-" db:"-"`

	Status         GradeStatus `json:"status" db:"status"`
	StatusMessages []string    `json:"status_messages,omitempty" db:"status_messages"`
	FailCount      int         `json:"fail_count" db:"fail_count"`

	UserSubmitTime *time.Time `json:"user_submit_time,omitempty" db:"user_submit_time"`
	SISSendTime    *time.Time `json:"sis_send_time,omitempty" db:"sis_send_time"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`

	// Extra holds forward-compatible fields outside the fixed schema.
	Extra map[string]string `json:"extra,omitempty" db:"additional"`
}

func (g *GradeRecord) Key() GradeKey {
	return GradeKey{CourseID: g.CourseID, StudentID: g.StudentID, Kind: g.GradeKind}
}

// TransitionTo moves the record along the state machine.
func (g *GradeRecord) TransitionTo(next GradeStatus) error {
	if !g.Status.CanTransitionTo(next) {
		return transitionError(g.Status, next)
	}
	g.Status = next
	return nil
}

func (g *GradeRecord) AppendStatusMessage(msg string) {
	if msg == "" {
		return
	}
	g.StatusMessages = append(g.StatusMessages, msg)
}

// MarkFailure starts a new failure episode.
func (g *GradeRecord) MarkFailure(msg string) {
	g.FailCount++
	g.AppendStatusMessage(msg)
}

func (g *GradeRecord) StatusMessageText() string {
	return strings.Join(g.StatusMessages, "\n")
}

func (g *GradeRecord) SetStatusMessageText(text string) {
	if text == "" {
		g.StatusMessages = nil
		return
	}
	g.StatusMessages = strings.Split(text, "\n")
}

// ExtraJSON encodes the side-map for the additional column.
func (g *GradeRecord) ExtraJSON() (string, error) {
	if len(g.Extra) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(g.Extra)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *GradeRecord) SetExtraJSON(data string) error {
	if data == "" {
		g.Extra = nil
		return nil
	}
	extra := map[string]string{}
	if err := json.Unmarshal([]byte(data), &extra); err != nil {
		return err
	}
	if len(extra) == 0 {
		extra = nil
	}
	g.Extra = extra
	return nil
}

// SamePayload reports whether two revisions carry the same grade data.
func (g *GradeRecord) SamePayload(other *GradeRecord) bool {
	return g.GradeKind == other.GradeKind &&
		g.CourseID == other.CourseID &&
		g.CourseExternalID == other.CourseExternalID &&
		g.StudentID == other.StudentID &&
		g.StudentExternalID == other.StudentExternalID &&
		g.Grade == other.Grade &&
		equalStringPtr(g.IncompleteGrade, other.IncompleteGrade) &&
		equalDatePtr(g.IncompleteDeadline, other.IncompleteDeadline) &&
		equalDatePtr(g.LastAttended, other.LastAttended)
}

// Clone returns a deep copy so stores never share slices with callers.
func (g GradeRecord) Clone() GradeRecord {
	c := g
	if g.StatusMessages != nil {
		c.StatusMessages = append([]string(nil), g.StatusMessages...)
	}
	if g.Extra != nil {
		c.Extra = make(map[string]string, len(g.Extra))
		for k, v := range g.Extra {
			c.Extra[k] = v
		}
	}
	c.IncompleteGrade = cloneString(g.IncompleteGrade)
	c.IncompleteDeadline = cloneTime(g.IncompleteDeadline)
	c.LastAttended = cloneTime(g.LastAttended)
	c.UserSubmitTime = cloneTime(g.UserSubmitTime)
	c.SISSendTime = cloneTime(g.SISSendTime)
	return c
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalDatePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StuckGroup is a (course, submitter) pair with records waiting in one status.
type StuckGroup struct {
	CourseID    int64 `json:"course_id" db:"course_id"`
	SubmitterID int64 `json:"submitter_id" db:"submitter_id"`
	Count       int   `json:"count" db:"cnt"`
}
