package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sis-gradesync/internal/model"
	pkgerrors "sis-gradesync/pkg/errors"
)

// MemoryRecordStore keeps grade records in process memory. It backs the
// "memory" database driver and the tests.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[int64]model.GradeRecord
	nextID  int64
	now     func() time.Time

	// Saves counts SaveRecord calls per record id.
	saves map[int64]int
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[int64]model.GradeRecord),
		saves:   make(map[int64]int),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for UpdatedAt.
func (s *MemoryRecordStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryRecordStore) SaveRecord(_ context.Context, rec *model.GradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec.UpdatedAt = now

	if rec.ID == 0 {
		for _, existing := range s.records {
			if existing.Key() == rec.Key() && existing.Revision == rec.Revision {
				return fmt.Errorf("duplicate revision %d for course %d student %d kind %d",
					rec.Revision, rec.CourseID, rec.StudentID, rec.GradeKind)
			}
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		s.nextID++
		rec.ID = s.nextID
	} else if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("grade record %d: %w", rec.ID, pkgerrors.ErrRecordNotFound)
	}

	stored := rec.Clone()
	stored.Confirmed = false
	s.records[rec.ID] = stored
	s.saves[rec.ID]++
	return nil
}

func (s *MemoryRecordStore) SaveRecordIf(_ context.Context, rec *model.GradeRecord, expected model.GradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("grade record %d: %w", rec.ID, pkgerrors.ErrRecordNotFound)
	}
	if stored.Status != expected {
		return fmt.Errorf("grade record %d is no longer %s: %w", rec.ID, expected, pkgerrors.ErrStatusConflict)
	}

	rec.UpdatedAt = s.now().UTC()
	next := rec.Clone()
	next.Confirmed = false
	s.records[rec.ID] = next
	s.saves[rec.ID]++
	return nil
}

// Put stores rec as-is, keeping its UpdatedAt. Tests use it to seed aged records.
func (s *MemoryRecordStore) Put(rec model.GradeRecord) model.GradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	} else if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now().UTC()
	}
	s.records[rec.ID] = rec.Clone()
	return rec
}

// Get returns a copy of the record with the given id.
func (s *MemoryRecordStore) Get(id int64) (model.GradeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec.Clone(), ok
}

// SaveCount reports how many times SaveRecord persisted the record.
func (s *MemoryRecordStore) SaveCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[id]
}

func (s *MemoryRecordStore) FindCurrent(_ context.Context, courseID, studentID int64, kind model.GradeKind) (*model.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *model.GradeRecord
	for _, rec := range s.records {
		if rec.CourseID != courseID || rec.StudentID != studentID || rec.GradeKind != kind {
			continue
		}
		if current == nil || rec.Revision > current.Revision {
			c := rec.Clone()
			current = &c
		}
	}
	if current == nil {
		return nil, pkgerrors.ErrRecordNotFound
	}
	return current, nil
}

func (s *MemoryRecordStore) ListRevisions(_ context.Context, courseID, studentID int64, kind model.GradeKind) ([]model.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.GradeRecord
	for _, rec := range s.records {
		if rec.CourseID == courseID && rec.StudentID == studentID && rec.GradeKind == kind {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

func (s *MemoryRecordStore) FindPendingCourseGroups(_ context.Context, courseID, submitterID int64, status model.GradeStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := make(map[string]time.Time)
	for _, rec := range s.records {
		if rec.CourseID != courseID || rec.SubmitterID != submitterID || rec.Status != status {
			continue
		}
		var t time.Time
		if rec.UserSubmitTime != nil {
			t = *rec.UserSubmitTime
		}
		if cur, ok := earliest[rec.CourseExternalID]; !ok || t.Before(cur) {
			earliest[rec.CourseExternalID] = t
		}
	}

	groups := make([]string, 0, len(earliest))
	for id := range earliest {
		groups = append(groups, id)
	}
	sort.Slice(groups, func(i, j int) bool {
		ti, tj := earliest[groups[i]], earliest[groups[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return groups[i] < groups[j]
	})
	if len(groups) == 0 {
		return nil, nil
	}
	return groups, nil
}

func (s *MemoryRecordStore) FindByStatus(_ context.Context, q RecordQuery) ([]model.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.GradeRecord
	for _, rec := range s.records {
		if q.matches(&rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := submitTime(&out[i]), submitTime(&out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryRecordStore) FindStuck(_ context.Context, status model.GradeStatus, olderThan time.Time) ([]model.StuckGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ course, submitter int64 }
	counts := make(map[key]int)
	for _, rec := range s.records {
		if rec.Status == status && rec.UpdatedAt.Before(olderThan) {
			counts[key{rec.CourseID, rec.SubmitterID}]++
		}
	}

	groups := make([]model.StuckGroup, 0, len(counts))
	for k, n := range counts {
		groups = append(groups, model.StuckGroup{CourseID: k.course, SubmitterID: k.submitter, Count: n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].CourseID != groups[j].CourseID {
			return groups[i].CourseID < groups[j].CourseID
		}
		return groups[i].SubmitterID < groups[j].SubmitterID
	})
	return groups, nil
}

func (s *MemoryRecordStore) ResetStuck(_ context.Context, courseID, submitterID int64, from, to model.GradeStatus, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var n int64
	for id, rec := range s.records {
		if rec.Status != from || rec.CourseID != courseID || rec.SubmitterID != submitterID || !rec.UpdatedAt.Before(olderThan) {
			continue
		}
		rec.Status = to
		rec.UpdatedAt = now
		s.records[id] = rec
		n++
	}
	return n, nil
}

func (s *MemoryRecordStore) ExistsWithStatus(_ context.Context, courseID, submitterID int64, status model.GradeStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.CourseID == courseID && rec.SubmitterID == submitterID && rec.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRecordStore) CountByStatus(_ context.Context, courseID int64) (map[model.GradeStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[model.GradeKey]model.GradeRecord)
	for _, rec := range s.records {
		if rec.CourseID != courseID {
			continue
		}
		if cur, ok := current[rec.Key()]; !ok || rec.Revision > cur.Revision {
			current[rec.Key()] = rec
		}
	}

	counts := make(map[model.GradeStatus]int)
	for _, rec := range current {
		counts[rec.Status]++
	}
	return counts, nil
}

func (q RecordQuery) matches(rec *model.GradeRecord) bool {
	if q.CourseID != 0 && rec.CourseID != q.CourseID {
		return false
	}
	if q.SubmitterID != 0 && rec.SubmitterID != q.SubmitterID {
		return false
	}
	if q.SubmitterExternalID != "" && rec.SubmitterExternalID != q.SubmitterExternalID {
		return false
	}
	if q.CourseExternalID != "" && rec.CourseExternalID != q.CourseExternalID {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	return true
}

func submitTime(rec *model.GradeRecord) time.Time {
	if rec.UserSubmitTime == nil {
		return time.Time{}
	}
	return *rec.UserSubmitTime
}
