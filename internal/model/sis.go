package model

// GradeRequest is the body posted to the SIS grade endpoint.
type GradeRequest struct {
	ModifiedBy    string         `json:"ModifiedBy"`
	StudentGrades []StudentGrade `json:"StudentGrades"`
}

// StudentGrade is one entry of a GradeRequest. Exactly one of the grade fields
// is set, selected by the record's grade kind.
type StudentGrade struct {
	CourseID  string `json:"CourseId"`
	StudentID string `json:"StudentId"`

	MidtermGrade1 *string `json:"MidtermGrade1,omitempty"`
	MidtermGrade2 *string `json:"MidtermGrade2,omitempty"`
	MidtermGrade3 *string `json:"MidtermGrade3,omitempty"`
	MidtermGrade4 *string `json:"MidtermGrade4,omitempty"`
	MidtermGrade5 *string `json:"MidtermGrade5,omitempty"`
	MidtermGrade6 *string `json:"MidtermGrade6,omitempty"`
	FinalGrade    *string `json:"FinalGrade,omitempty"`

	LastAttendanceDate       string `json:"LastAttendanceDate,omitempty"`
	DefaultIncompleteGrade   string `json:"DefaultIncompleteGrade,omitempty"`
	FinalGradeExpirationDate string `json:"FinalGradeExpirationDate,omitempty"`
}

const (
	SISStatusSuccess = "success"
	SISStatusFailure = "failure"
)

// GradeResponse is the decoded SIS reply. Pointer fields distinguish an absent
// key from a zero value.
type GradeResponse struct {
	IsConnectivityFailure *bool         `json:"isConnectivityFailure,omitempty"`
	Status                string        `json:"status,omitempty"`
	Messages              *[]SISMessage `json:"messages,omitempty"`
}

// ConnectivityFailure reports whether the SIS flagged a connectivity problem.
func (r *GradeResponse) ConnectivityFailure() bool {
	return r.IsConnectivityFailure != nil && *r.IsConnectivityFailure
}

func (r *GradeResponse) HasMessages() bool {
	return r.Messages != nil
}

type SISMessage struct {
	Message string         `json:"message"`
	Data    SISMessageData `json:"data"`
}

type SISMessageData struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
	Property  string `json:"property,omitempty"`
	TargetSIS string `json:"targetSis,omitempty"`
}
