package store

import (
	"strings"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func ParseDate(v string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// Role is the fixed role of an account.
type Role string

const (
	RoleParent    Role = "parent"
	RoleClinic    Role = "clinic"
	RoleInsurance Role = "insurance"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleClinic, RoleInsurance:
		return true
	}
	return false
}

const (
	NDISPending  = "pending"
	NDISApproved = "approved"
	NDISRejected = "rejected"

	SessionScheduled = "scheduled"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"

	ClaimPending  = "pending"
	ClaimApproved = "approved"
	ClaimRejected = "rejected"

	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	AvailabilityAvailable = "available"
)

var (
	ValidNDISStatuses    = map[string]bool{NDISPending: true, NDISApproved: true, NDISRejected: true}
	ValidSessionStatuses = map[string]bool{SessionScheduled: true, SessionCompleted: true, SessionCancelled: true}
	ValidClaimStatuses   = map[string]bool{ClaimPending: true, ClaimApproved: true, ClaimRejected: true}
	ValidClaimPriorities = map[string]bool{PriorityNormal: true, PriorityHigh: true, PriorityUrgent: true}
	ValidDocumentTypes   = map[string]bool{"diagnostic": true, "therapy": true, "medical": true, "assessment": true}
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt"`
}

type UserPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type Child struct {
	ID                     string     `json:"id"`
	ParentID               string     `json:"parentId"`
	Name                   string     `json:"name"`
	DateOfBirth            time.Time  `json:"dateOfBirth"`
	Gender                 *string    `json:"gender"`
	PrimaryLanguage        *string    `json:"primaryLanguage"`
	CurrentDiagnosis       *string    `json:"currentDiagnosis"`
	DiagnosisDate          *time.Time `json:"diagnosisDate"`
	DiagnosingProfessional *string    `json:"diagnosingProfessional"`
	NDISStatus             string     `json:"ndisStatus"`
	CreatedAt              time.Time  `json:"createdAt"`
}

type ChildPatch struct {
	Name                   *string    `json:"name,omitempty"`
	DateOfBirth            *time.Time `json:"dateOfBirth,omitempty"`
	Gender                 *string    `json:"gender,omitempty"`
	PrimaryLanguage        *string    `json:"primaryLanguage,omitempty"`
	CurrentDiagnosis       *string    `json:"currentDiagnosis,omitempty"`
	DiagnosisDate          *time.Time `json:"diagnosisDate,omitempty"`
	DiagnosingProfessional *string    `json:"diagnosingProfessional,omitempty"`
	NDISStatus             *string    `json:"ndisStatus,omitempty"`
	// Clear names optional attributes to reset to null. It is applied after
	// the set fields.
	Clear []string `json:"-"`
}

// ClearableChildAttrs are the optional Child attributes a patch may clear.
var ClearableChildAttrs = []string{
	"gender", "primaryLanguage", "currentDiagnosis", "diagnosisDate", "diagnosingProfessional",
}

// Empty reports whether the patch mentions no field.
func (p ChildPatch) Empty() bool {
	return p.Name == nil && p.DateOfBirth == nil && p.Gender == nil &&
		p.PrimaryLanguage == nil && p.CurrentDiagnosis == nil && p.DiagnosisDate == nil &&
		p.DiagnosingProfessional == nil && p.NDISStatus == nil && len(p.Clear) == 0
}

// Apply merges p onto c.
func (p ChildPatch) Apply(c *Child) { p.apply(c) }

// MissingDiagnosisDate reports a diagnosis recorded without its date.
func (c *Child) MissingDiagnosisDate() bool {
	return c.CurrentDiagnosis != nil && strings.TrimSpace(*c.CurrentDiagnosis) != "" && c.DiagnosisDate == nil
}

// IntakeForm holds the answers of the onboarding questionnaire for a child.
// FormData is stored as an opaque JSON object.
type IntakeForm struct {
	ID          string         `json:"id"`
	ChildID     string         `json:"childId"`
	CurrentStep int            `json:"currentStep"`
	IsCompleted bool           `json:"isCompleted"`
	FormData    map[string]any `json:"formData"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// IntakeFormPatch replaces FormData wholesale when it is non-nil.
type IntakeFormPatch struct {
	CurrentStep *int           `json:"currentStep,omitempty"`
	IsCompleted *bool          `json:"isCompleted,omitempty"`
	FormData    map[string]any `json:"formData,omitempty"`
}

type Clinic struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Address        string    `json:"address"`
	Distance       *string   `json:"distance"`
	Rating         *string   `json:"rating"`
	Availability   string    `json:"availability"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ClinicPatch struct {
	Name           *string `json:"name,omitempty"`
	Specialization *string `json:"specialization,omitempty"`
	Address        *string `json:"address,omitempty"`
	Distance       *string `json:"distance,omitempty"`
	Rating         *string `json:"rating,omitempty"`
	Availability   *string `json:"availability,omitempty"`
}

type Session struct {
	ID               string    `json:"id"`
	ChildID          string    `json:"childId"`
	ClinicID         string    `json:"clinicId"`
	SessionType      string    `json:"sessionType"`
	ScheduledDate    time.Time `json:"scheduledDate"`
	Status           string    `json:"status"`
	Notes            *string   `json:"notes"`
	GoalsAchieved    bool      `json:"goalsAchieved"`
	HomeworkAssigned bool      `json:"homeworkAssigned"`
	CreatedAt        time.Time `json:"createdAt"`
}

type SessionPatch struct {
	SessionType      *string    `json:"sessionType,omitempty"`
	ScheduledDate    *time.Time `json:"scheduledDate,omitempty"`
	Status           *string    `json:"status,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	GoalsAchieved    *bool      `json:"goalsAchieved,omitempty"`
	HomeworkAssigned *bool      `json:"homeworkAssigned,omitempty"`
}

// Claim is a subsidy claim for a billed care period. Amount is a decimal
// string with two fractional digits.
type Claim struct {
	ID            string     `json:"id"`
	ClaimNumber   string     `json:"claimNumber"`
	ChildID       string     `json:"childId"`
	ClinicID      string     `json:"clinicId"`
	Amount        string     `json:"amount"`
	Status        string     `json:"status"`
	SubmittedDate time.Time  `json:"submittedDate"`
	ReviewedDate  *time.Time `json:"reviewedDate"`
	Period        string     `json:"period"`
	Priority      string     `json:"priority"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type ClaimPatch struct {
	Amount       *string    `json:"amount,omitempty"`
	Status       *string    `json:"status,omitempty"`
	ReviewedDate *time.Time `json:"reviewedDate,omitempty"`
	Period       *string    `json:"period,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
}

type Document struct {
	ID           string    `json:"id"`
	ChildID      string    `json:"childId"`
	FileName     string    `json:"fileName"`
	FileType     string    `json:"fileType"`
	DocumentType string    `json:"documentType"`
	FileSize     int64     `json:"fileSize"`
	UploadedBy   string    `json:"uploadedBy"`
	StorageKey   string    `json:"storageKey,omitempty"`
	Digest       string    `json:"digest,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type DocumentPatch struct {
	FileName     *string `json:"fileName,omitempty"`
	DocumentType *string `json:"documentType,omitempty"`
}

// DayBounds returns [start of the local calendar day of now, start of the
// next local day).
func DayBounds(now time.Time) (time.Time, time.Time) {
	local := now.In(time.Local)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	return start, start.AddDate(0, 0, 1)
}

func applyChildDefaults(c *Child) {
	if c.NDISStatus == "" {
		c.NDISStatus = NDISPending
	}
}

func applyIntakeDefaults(f *IntakeForm) {
	if f.CurrentStep == 0 {
		f.CurrentStep = 1
	}
	if f.FormData == nil {
		f.FormData = map[string]any{}
	}
}

func applyClinicDefaults(c *Clinic) {
	if c.Availability == "" {
		c.Availability = AvailabilityAvailable
	}
}

func applySessionDefaults(s *Session) {
	if s.Status == "" {
		s.Status = SessionScheduled
	}
}

func applyClaimDefaults(c *Claim, now time.Time) {
	if c.Status == "" {
		c.Status = ClaimPending
	}
	if c.Priority == "" {
		c.Priority = PriorityNormal
	}
	if c.SubmittedDate.IsZero() {
		c.SubmittedDate = now
	}
}

func (p UserPatch) apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
}

func (p ChildPatch) apply(c *Child) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.DateOfBirth != nil {
		c.DateOfBirth = *p.DateOfBirth
	}
	if p.Gender != nil {
		c.Gender = cloneString(p.Gender)
	}
	if p.PrimaryLanguage != nil {
		c.PrimaryLanguage = cloneString(p.PrimaryLanguage)
	}
	if p.CurrentDiagnosis != nil {
		c.CurrentDiagnosis = cloneString(p.CurrentDiagnosis)
	}
	if p.DiagnosisDate != nil {
		c.DiagnosisDate = cloneTime(p.DiagnosisDate)
	}
	if p.DiagnosingProfessional != nil {
		c.DiagnosingProfessional = cloneString(p.DiagnosingProfessional)
	}
	if p.NDISStatus != nil {
		c.NDISStatus = *p.NDISStatus
	}
	for _, attr := range p.Clear {
		switch attr {
		case "gender":
			c.Gender = nil
		case "primaryLanguage":
			c.PrimaryLanguage = nil
		case "currentDiagnosis":
			c.CurrentDiagnosis = nil
		case "diagnosisDate":
			c.DiagnosisDate = nil
		case "diagnosingProfessional":
			c.DiagnosingProfessional = nil
		}
	}
}

func (p IntakeFormPatch) apply(f *IntakeForm) {
	if p.CurrentStep != nil {
		f.CurrentStep = *p.CurrentStep
	}
	if p.IsCompleted != nil {
		f.IsCompleted = *p.IsCompleted
	}
	if p.FormData != nil {
		f.FormData = CloneMap(p.FormData)
	}
}

func (p ClinicPatch) apply(c *Clinic) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Specialization != nil {
		c.Specialization = *p.Specialization
	}
	if p.Address != nil {
		c.Address = *p.Address
	}
	if p.Distance != nil {
		c.Distance = cloneString(p.Distance)
	}
	if p.Rating != nil {
		c.Rating = cloneString(p.Rating)
	}
	if p.Availability != nil {
		c.Availability = *p.Availability
	}
}

func (p SessionPatch) apply(s *Session) {
	if p.SessionType != nil {
		s.SessionType = *p.SessionType
	}
	if p.ScheduledDate != nil {
		s.ScheduledDate = *p.ScheduledDate
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Notes != nil {
		s.Notes = cloneString(p.Notes)
	}
	if p.GoalsAchieved != nil {
		s.GoalsAchieved = *p.GoalsAchieved
	}
	if p.HomeworkAssigned != nil {
		s.HomeworkAssigned = *p.HomeworkAssigned
	}
}

func (p ClaimPatch) apply(c *Claim) {
	if p.Amount != nil {
		c.Amount = *p.Amount
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.ReviewedDate != nil {
		c.ReviewedDate = cloneTime(p.ReviewedDate)
	}
	if p.Period != nil {
		c.Period = *p.Period
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
}

func (p DocumentPatch) apply(d *Document) {
	if p.FileName != nil {
		d.FileName = *p.FileName
	}
	if p.DocumentType != nil {
		d.DocumentType = *p.DocumentType
	}
}
