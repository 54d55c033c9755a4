package store

import "time"

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CloneMap deep-copies a decoded JSON object.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]bool:
		out := make(map[string]bool, len(t))
		for k, b := range t {
			out[k] = b
		}
		return out
	default:
		return v
	}
}

func (u User) clone() *User { return &u }

func (c Child) clone() *Child {
	c.Gender = cloneString(c.Gender)
	c.PrimaryLanguage = cloneString(c.PrimaryLanguage)
	c.CurrentDiagnosis = cloneString(c.CurrentDiagnosis)
	c.DiagnosisDate = cloneTime(c.DiagnosisDate)
	c.DiagnosingProfessional = cloneString(c.DiagnosingProfessional)
	return &c
}

func (f IntakeForm) clone() *IntakeForm {
	f.FormData = CloneMap(f.FormData)
	return &f
}

func (c Clinic) clone() *Clinic {
	c.Distance = cloneString(c.Distance)
	c.Rating = cloneString(c.Rating)
	return &c
}

func (s Session) clone() *Session {
	s.Notes = cloneString(s.Notes)
	return &s
}

func (c Claim) clone() *Claim {
	c.ReviewedDate = cloneTime(c.ReviewedDate)
	return &c
}

func (d Document) clone() *Document { return &d }
