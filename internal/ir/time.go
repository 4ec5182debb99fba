package ir

import "time"

// Normalize returns t in UTC truncated to microsecond precision, the
// resolution at which times are persisted. Comparing normalized times
// after a storage round trip is exact.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Microsecond)
}

// FromMicros is the inverse of Normalize(t).UnixMicro().
func FromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// NormalizeEvent returns a copy of e with every time field normalized.
func NormalizeEvent(e Event) Event {
	switch ev := e.(type) {
	case Admit:
		ev.Header = ev.Header.normalized()
		ev.AdmissionTime = Normalize(ev.AdmissionTime)
		return ev
	case Transfer:
		ev.Header = ev.Header.normalized()
		ev.AdmissionTime = Normalize(ev.AdmissionTime)
		return ev
	case Discharge:
		ev.Header = ev.Header.normalized()
		ev.AdmissionTime = Normalize(ev.AdmissionTime)
		ev.DischargeTime = Normalize(ev.DischargeTime)
		ev.DeathTime = Normalize(ev.DeathTime)
		return ev
	case CancelAdmit:
		ev.Header = ev.Header.normalized()
		ev.CancelledTime = Normalize(ev.CancelledTime)
		return ev
	case CancelTransfer:
		ev.Header = ev.Header.normalized()
		ev.CancelledTime = Normalize(ev.CancelledTime)
		return ev
	case CancelDischarge:
		ev.Header = ev.Header.normalized()
		ev.CancelledTime = Normalize(ev.CancelledTime)
		return ev
	case MergePatient:
		ev.Header = ev.Header.normalized()
		return ev
	case UpdatePatientInfo:
		ev.Header = ev.Header.normalized()
		ev.DeathTime = Normalize(ev.DeathTime)
		return ev
	case PatientInfection:
		ev.Header = ev.Header.normalized()
		ev.AddedTime = Normalize(ev.AddedTime)
		ev.ResolvedTime = Normalize(ev.ResolvedTime)
		return ev
	case DeletePersonInformation:
		ev.Header = ev.Header.normalized()
		return ev
	case MoveVisitInformation:
		ev.Header = ev.Header.normalized()
		return ev
	case ChangePatientIdentifiers:
		ev.Header = ev.Header.normalized()
		return ev
	case Unsupported:
		ev.Header = ev.Header.normalized()
		return ev
	default:
		return e
	}
}

func (h Header) normalized() Header {
	h.EventTime = Normalize(h.EventTime)
	h.RecordedTime = Normalize(h.RecordedTime)
	return h
}
