package ir

import (
	"encoding/json"
	"fmt"
)

// EncodeEvent serializes an event as a flat JSON object with a "kind"
// discriminator next to the variant's own fields. The same shape is used
// by feed files and by the applied-event log.
func EncodeEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	kind, err := json.Marshal(string(e.Kind()))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	fields["kind"] = kind
	delete(fields, "raw_kind")
	return json.Marshal(fields)
}

// DecodeEvent parses the EncodeEvent shape. An unknown kind decodes to
// Unsupported so the dispatcher can reject it explicitly.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if head.Kind == "" {
		return nil, fmt.Errorf("decode event: missing kind")
	}

	var (
		ev  Event
		err error
	)
	switch head.Kind {
	case KindAdmit:
		ev, err = decodeAs[Admit](data)
	case KindTransfer:
		ev, err = decodeAs[Transfer](data)
	case KindDischarge:
		ev, err = decodeAs[Discharge](data)
	case KindCancelAdmit:
		ev, err = decodeAs[CancelAdmit](data)
	case KindCancelTransfer:
		ev, err = decodeAs[CancelTransfer](data)
	case KindCancelDischarge:
		ev, err = decodeAs[CancelDischarge](data)
	case KindMergePatient:
		ev, err = decodeAs[MergePatient](data)
	case KindUpdatePatientInfo:
		ev, err = decodeAs[UpdatePatientInfo](data)
	case KindPatientInfection:
		ev, err = decodeAs[PatientInfection](data)
	case KindDeletePersonInformation:
		ev, err = decodeAs[DeletePersonInformation](data)
	case KindMoveVisitInformation:
		ev, err = decodeAs[MoveVisitInformation](data)
	case KindChangePatientIdentifiers:
		ev, err = decodeAs[ChangePatientIdentifiers](data)
	default:
		var u Unsupported
		err = json.Unmarshal(data, &u.Header)
		u.RawKind = string(head.Kind)
		ev = u
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Kind, err)
	}
	return NormalizeEvent(ev), nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
