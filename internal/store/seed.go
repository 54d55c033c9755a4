package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mia/mia/internal/platform/apperr"
)

// DemoPassword is the password of every demo account.
const DemoPassword = "password123"

// DemoAccounts maps each role to the username of its demo account.
var DemoAccounts = map[Role]string{
	RoleParent:    "sarah.johnson",
	RoleClinic:    "dr.martinez",
	RoleInsurance: "admin.ndis",
}

// SeedResult reports the ids created by Seed.
type SeedResult struct {
	ParentID    string
	ClinicUser  string
	InsuranceID string
	ChildID     string
	ClinicID    string
	SessionID   string
	ClaimID     string
	Skipped     bool
}

// Seed loads the demo accounts and their records through the repositories.
// It is a no-op when the demo parent account already exists.
func Seed(ctx context.Context, s *Store, hash func(password string) (string, error)) (*SeedResult, error) {
	if _, err := s.Users.GetByUsername(ctx, DemoAccounts[RoleParent]); err == nil {
		return &SeedResult{Skipped: true}, nil
	} else if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("check demo data: %w", err)
	}

	pw, err := hash(DemoPassword)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}

	res := &SeedResult{}
	users := []struct {
		u  *User
		id *string
	}{
		{&User{Username: "sarah.johnson", PasswordHash: pw, Role: RoleParent, Name: "Sarah Johnson", Email: "sarah.johnson@email.com"}, &res.ParentID},
		{&User{Username: "dr.martinez", PasswordHash: pw, Role: RoleClinic, Name: "Dr. Martinez", Email: "dr.martinez@sunshinetherapy.com"}, &res.ClinicUser},
		{&User{Username: "admin.ndis", PasswordHash: pw, Role: RoleInsurance, Name: "NDIS Administrator", Email: "admin@ndis.gov.au"}, &res.InsuranceID},
	}
	for _, x := range users {
		if err := s.Users.Create(ctx, x.u); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", x.u.Username, err)
		}
		*x.id = x.u.ID
	}

	now := s.Now()
	diagnosis := "Autism Spectrum Disorder"
	diagnosisDate := time.Date(2022, time.June, 15, 0, 0, 0, 0, time.UTC)
	professional := "Dr. Sarah Chen, Pediatric Developmental Specialist"
	gender := "female"
	language := "English"
	child := &Child{
		ParentID:               res.ParentID,
		Name:                   "Emma Johnson",
		DateOfBirth:            time.Date(2018, time.March, 15, 0, 0, 0, 0, time.UTC),
		Gender:                 &gender,
		PrimaryLanguage:        &language,
		CurrentDiagnosis:       &diagnosis,
		DiagnosisDate:          &diagnosisDate,
		DiagnosingProfessional: &professional,
		NDISStatus:             NDISApproved,
	}
	if err := s.Children.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("seed child: %w", err)
	}
	res.ChildID = child.ID

	distance, rating := "2.3", "4.8"
	clinic := &Clinic{
		UserID:         res.ClinicUser,
		Name:           "Sunshine Therapy Center",
		Specialization: "Autism Spectrum Disorder, Speech Therapy",
		Address:        "123 Main Street, Melbourne VIC 3000",
		Distance:       &distance,
		Rating:         &rating,
		Availability:   AvailabilityAvailable,
	}
	if err := s.Clinics.Create(ctx, clinic); err != nil {
		return nil, fmt.Errorf("seed clinic: %w", err)
	}
	res.ClinicID = clinic.ID

	start, _ := DayBounds(now)
	session := &Session{
		ChildID:       child.ID,
		ClinicID:      clinic.ID,
		SessionType:   "Speech Therapy",
		ScheduledDate: start.Add(14 * time.Hour),
		Status:        SessionScheduled,
	}
	if err := s.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("seed session: %w", err)
	}
	res.SessionID = session.ID

	claim := &Claim{
		ClaimNumber: "NDIS-2024-0312-001",
		ChildID:     child.ID,
		ClinicID:    clinic.ID,
		Amount:      "2840.00",
		Status:      ClaimPending,
		Period:      "Feb 1-28, 2024",
		Priority:    PriorityNormal,
	}
	if err := s.Claims.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("seed claim: %w", err)
	}
	res.ClaimID = claim.ID

	return res, nil
}
