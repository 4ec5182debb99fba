package ir

import "time"

// Kind names an event variant. The set is closed: every Kind has exactly
// one concrete type below and the dispatcher switches over all of them.
type Kind string

const (
	KindAdmit                    Kind = "admit"
	KindTransfer                 Kind = "transfer"
	KindDischarge                Kind = "discharge"
	KindCancelAdmit              Kind = "cancel_admit"
	KindCancelTransfer           Kind = "cancel_transfer"
	KindCancelDischarge          Kind = "cancel_discharge"
	KindMergePatient             Kind = "merge_patient"
	KindUpdatePatientInfo        Kind = "update_patient_info"
	KindPatientInfection         Kind = "patient_infection"
	KindDeletePersonInformation  Kind = "delete_person_information"
	KindMoveVisitInformation     Kind = "move_visit_information"
	KindChangePatientIdentifiers Kind = "change_patient_identifiers"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindAdmit,
	KindTransfer,
	KindDischarge,
	KindCancelAdmit,
	KindCancelTransfer,
	KindCancelDischarge,
	KindMergePatient,
	KindUpdatePatientInfo,
	KindPatientInfection,
	KindDeletePersonInformation,
	KindMoveVisitInformation,
	KindChangePatientIdentifiers,
}

// Header carries the fields shared by every event.
//
// EventTime is when the movement happened in the real world and drives
// valid time. RecordedTime is when the upstream system recorded the
// message; it only breaks ties between events with equal EventTime.
type Header struct {
	SourceSystem string    `json:"source_system,omitempty"`
	PatientKey   string    `json:"patient_key"`
	EncounterKey string    `json:"encounter_key,omitempty"`
	EventTime    time.Time `json:"event_time"`
	RecordedTime time.Time `json:"recorded_time,omitzero"`
}

// Meta returns the shared header.
func (h Header) Meta() Header { return h }

// Event is the sealed sum type of decoded events. The unexported fields
// method restricts implementations to this package.
type Event interface {
	Kind() Kind
	Meta() Header
	// fields returns the kind-specific values that take part in the
	// fingerprint. Absent optional values are omitted.
	fields() Object
}

// Admit opens an encounter at Location.
type Admit struct {
	Header
	Location      string    `json:"location"`
	AdmissionTime time.Time `json:"admission_time,omitzero"`
	PatientClass  string    `json:"patient_class,omitempty"`
}

func (Admit) Kind() Kind { return KindAdmit }

func (e Admit) fields() Object {
	obj := Object{"location": String(e.Location)}
	putTime(obj, "admission_time", e.AdmissionTime)
	putString(obj, "patient_class", e.PatientClass)
	return obj
}

// Transfer moves the patient from the open location to Location.
// PreviousLocation is only consulted when the admission has to be implied.
type Transfer struct {
	Header
	Location         string    `json:"location"`
	PreviousLocation string    `json:"previous_location,omitempty"`
	AdmissionTime    time.Time `json:"admission_time,omitzero"`
	PatientClass     string    `json:"patient_class,omitempty"`
}

func (Transfer) Kind() Kind { return KindTransfer }

func (e Transfer) fields() Object {
	obj := Object{"location": String(e.Location)}
	putString(obj, "previous_location", e.PreviousLocation)
	putTime(obj, "admission_time", e.AdmissionTime)
	putString(obj, "patient_class", e.PatientClass)
	return obj
}

// Discharge ends the encounter.
type Discharge struct {
	Header
	Location          string    `json:"location,omitempty"`
	AdmissionTime     time.Time `json:"admission_time,omitzero"`
	DischargeTime     time.Time `json:"discharge_time,omitzero"`
	Disposition       string    `json:"disposition,omitempty"`
	DischargeLocation string    `json:"discharge_location,omitempty"`
	Died              bool      `json:"died,omitempty"`
	DeathTime         time.Time `json:"death_time,omitzero"`
}

func (Discharge) Kind() Kind { return KindDischarge }

func (e Discharge) fields() Object {
	obj := Object{}
	putString(obj, "location", e.Location)
	putTime(obj, "admission_time", e.AdmissionTime)
	putTime(obj, "discharge_time", e.DischargeTime)
	putString(obj, "disposition", e.Disposition)
	putString(obj, "discharge_location", e.DischargeLocation)
	if e.Died {
		obj["died"] = Bool(true)
	}
	putTime(obj, "death_time", e.DeathTime)
	return obj
}

// CancelAdmit reverses the admission nearest before CancelledTime
// (or before EventTime when CancelledTime is zero).
type CancelAdmit struct {
	Header
	CancelledTime time.Time `json:"cancelled_time,omitzero"`
}

func (CancelAdmit) Kind() Kind { return KindCancelAdmit }

func (e CancelAdmit) fields() Object { return cancelFields(e.CancelledTime) }

// CancelTransfer reverses the transfer nearest before the cancelled time.
type CancelTransfer struct {
	Header
	CancelledTime time.Time `json:"cancelled_time,omitzero"`
}

func (CancelTransfer) Kind() Kind { return KindCancelTransfer }

func (e CancelTransfer) fields() Object { return cancelFields(e.CancelledTime) }

// CancelDischarge reverses the discharge nearest before the cancelled time.
type CancelDischarge struct {
	Header
	CancelledTime time.Time `json:"cancelled_time,omitzero"`
}

func (CancelDischarge) Kind() Kind { return KindCancelDischarge }

func (e CancelDischarge) fields() Object { return cancelFields(e.CancelledTime) }

// MergePatient retires RetiredKey into the identity of PatientKey.
type MergePatient struct {
	Header
	RetiredKey string `json:"retired_key"`
}

func (MergePatient) Kind() Kind { return KindMergePatient }

func (e MergePatient) fields() Object {
	return Object{"retired_key": String(e.RetiredKey)}
}

// UpdatePatientInfo asserts demographics for the patient as of EventTime.
type UpdatePatientInfo struct {
	Header
	Demographics
}

func (UpdatePatientInfo) Kind() Kind { return KindUpdatePatientInfo }

func (e UpdatePatientInfo) fields() Object { return e.Demographics.object() }

// PatientInfection asserts the state of one patient condition.
type PatientInfection struct {
	Header
	Condition
}

func (PatientInfection) Kind() Kind { return KindPatientInfection }

func (e PatientInfection) fields() Object { return e.Condition.object() }

// DeletePersonInformation ends demographics, conditions and the
// encounters of the patient at EventTime.
type DeletePersonInformation struct {
	Header
}

func (DeletePersonInformation) Kind() Kind { return KindDeletePersonInformation }

func (DeletePersonInformation) fields() Object { return Object{} }

// MoveVisitInformation moves the encounter EncounterKey from the patient
// PreviousPatientKey to PatientKey.
type MoveVisitInformation struct {
	Header
	PreviousPatientKey string `json:"previous_patient_key"`
}

func (MoveVisitInformation) Kind() Kind { return KindMoveVisitInformation }

func (e MoveVisitInformation) fields() Object {
	return Object{"previous_patient_key": String(e.PreviousPatientKey)}
}

// ChangePatientIdentifiers replaces the patient key PreviousPatientKey
// with PatientKey.
type ChangePatientIdentifiers struct {
	Header
	PreviousPatientKey string `json:"previous_patient_key"`
}

func (ChangePatientIdentifiers) Kind() Kind { return KindChangePatientIdentifiers }

func (e ChangePatientIdentifiers) fields() Object {
	return Object{"previous_patient_key": String(e.PreviousPatientKey)}
}

// Unsupported carries a decoded record whose kind is not in Kinds.
// The dispatcher rejects it loudly instead of dropping it.
type Unsupported struct {
	Header
	RawKind string `json:"raw_kind"`
}

func (e Unsupported) Kind() Kind { return Kind(e.RawKind) }

func (e Unsupported) fields() Object {
	return Object{"raw_kind": String(e.RawKind)}
}

// IsMovement reports whether the event is ordered and replayed per encounter.
func IsMovement(e Event) bool {
	switch e.(type) {
	case Admit, Transfer, Discharge, CancelAdmit, CancelTransfer, CancelDischarge:
		return true
	default:
		return false
	}
}

// IsSupported reports whether k names a known variant.
func IsSupported(k Kind) bool {
	for _, known := range Kinds {
		if known == k {
			return true
		}
	}
	return false
}

func cancelFields(cancelled time.Time) Object {
	obj := Object{}
	putTime(obj, "cancelled_time", cancelled)
	return obj
}

func putString(obj Object, key, v string) {
	if v != "" {
		obj[key] = String(v)
	}
}

func putTime(obj Object, key string, t time.Time) {
	if !t.IsZero() {
		obj[key] = Int(Normalize(t).UnixMicro())
	}
}
