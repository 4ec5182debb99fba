package ir

import "time"

// Entity types of versioned rows.
const (
	EntityVisit         = "visit"
	EntityLocationVisit = "location_visit"
	EntityLivePointer   = "live_pointer"
	EntityDemographics  = "demographics"
	EntityCondition     = "condition"
)

// VisitStatus is the encounter-level state.
type VisitStatus string

const (
	StatusActive     VisitStatus = "active"
	StatusDischarged VisitStatus = "discharged"
)

// HospitalVisit is the root visit of an encounter.
type HospitalVisit struct {
	Status            VisitStatus `json:"status"`
	AdmissionTime     time.Time   `json:"admission_time"`
	DischargeTime     time.Time   `json:"discharge_time,omitzero"`
	Disposition       string      `json:"disposition,omitempty"`
	DischargeLocation string      `json:"discharge_location,omitempty"`
	Died              bool        `json:"died,omitempty"`
	DeathTime         time.Time   `json:"death_time,omitzero"`
	PatientClass      string      `json:"patient_class,omitempty"`
	Implied           bool        `json:"implied,omitempty"`
}

// Equal compares every tracked field.
func (v HospitalVisit) Equal(o HospitalVisit) bool {
	return v.Status == o.Status &&
		v.AdmissionTime.Equal(o.AdmissionTime) &&
		v.DischargeTime.Equal(o.DischargeTime) &&
		v.Disposition == o.Disposition &&
		v.DischargeLocation == o.DischargeLocation &&
		v.Died == o.Died &&
		v.DeathTime.Equal(o.DeathTime) &&
		v.PatientClass == o.PatientClass &&
		v.Implied == o.Implied
}

// LocationVisit is a span of an encounter at one location.
// A zero DischargeTime means the visit is open.
type LocationVisit struct {
	Location      string    `json:"location"`
	AdmissionTime time.Time `json:"admission_time"`
	DischargeTime time.Time `json:"discharge_time,omitzero"`
	Implied       bool      `json:"implied,omitempty"`
}

// IsOpen reports whether the patient is still at this location.
func (l LocationVisit) IsOpen() bool { return l.DischargeTime.IsZero() }

// Equal compares every tracked field.
func (l LocationVisit) Equal(o LocationVisit) bool {
	return l.Location == o.Location &&
		l.AdmissionTime.Equal(o.AdmissionTime) &&
		l.DischargeTime.Equal(o.DischargeTime) &&
		l.Implied == o.Implied
}

// LivePointer points an identity at the identity currently authoritative
// for it. A canonical identity points at itself.
type LivePointer struct {
	LiveKey string `json:"live_key"`
}

// Equal compares the target key.
func (p LivePointer) Equal(o LivePointer) bool { return p.LiveKey == o.LiveKey }

// Demographics is the versioned person information of an identity.
type Demographics struct {
	GivenName  string    `json:"given_name,omitempty"`
	FamilyName string    `json:"family_name,omitempty"`
	BirthDate  string    `json:"birth_date,omitempty"`
	Sex        string    `json:"sex,omitempty"`
	Postcode   string    `json:"postcode,omitempty"`
	DeathTime  time.Time `json:"death_time,omitzero"`
}

// Equal compares every tracked field.
func (d Demographics) Equal(o Demographics) bool {
	return d.GivenName == o.GivenName &&
		d.FamilyName == o.FamilyName &&
		d.BirthDate == o.BirthDate &&
		d.Sex == o.Sex &&
		d.Postcode == o.Postcode &&
		d.DeathTime.Equal(o.DeathTime)
}

func (d Demographics) object() Object {
	obj := Object{}
	putString(obj, "given_name", d.GivenName)
	putString(obj, "family_name", d.FamilyName)
	putString(obj, "birth_date", d.BirthDate)
	putString(obj, "sex", d.Sex)
	putString(obj, "postcode", d.Postcode)
	putTime(obj, "death_time", d.DeathTime)
	return obj
}

// Condition is one patient condition such as an infection.
// Code and AddedTime identify it; the rest is versioned.
type Condition struct {
	Code         string    `json:"code"`
	Status       string    `json:"status,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	AddedTime    time.Time `json:"added_time"`
	ResolvedTime time.Time `json:"resolved_time,omitzero"`
}

// Equal compares every tracked field.
func (c Condition) Equal(o Condition) bool {
	return c.Code == o.Code &&
		c.Status == o.Status &&
		c.Comment == o.Comment &&
		c.AddedTime.Equal(o.AddedTime) &&
		c.ResolvedTime.Equal(o.ResolvedTime)
}

func (c Condition) object() Object {
	obj := Object{"code": String(c.Code)}
	putString(obj, "status", c.Status)
	putString(obj, "comment", c.Comment)
	putTime(obj, "added_time", c.AddedTime)
	putTime(obj, "resolved_time", c.ResolvedTime)
	return obj
}
