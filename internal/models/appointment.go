package models

import (
	"fmt"
	"time"
)

// RecordTimeLayout is the completion timestamp layout: UTC with millisecond precision.
const RecordTimeLayout = "2006-01-02T15:04:05.000Z"

// AppointmentColumns is the number of values in a record row.
const AppointmentColumns = 6

// ErrRecordColumns is returned when a row does not have one value per record field.
var ErrRecordColumns = fmt.Errorf("appointment row must have %d values", AppointmentColumns)

// AppointmentRecord is a completed appointment request handed to the record appender.
type AppointmentRecord struct {
	SenderID    string    `json:"sender_id"`
	Name        string    `json:"name"`
	PetName     string    `json:"pet_name"`
	PetType     string    `json:"pet_type"`
	Reason      string    `json:"reason"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewAppointmentRecord builds a record from the collected appointment answers.
func NewAppointmentRecord(senderID string, data map[DataKey]string, completedAt time.Time) AppointmentRecord {
	return AppointmentRecord{
		SenderID:    senderID,
		Name:        data[DataKeyName],
		PetName:     data[DataKeyPetName],
		PetType:     data[DataKeyPetType],
		Reason:      data[DataKeyReason],
		CompletedAt: completedAt.UTC(),
	}
}

// Values returns the ordered row: sender, name, pet name, pet type, reason, timestamp.
func (r AppointmentRecord) Values() []string {
	return []string{
		r.SenderID,
		r.Name,
		r.PetName,
		r.PetType,
		r.Reason,
		r.CompletedAt.UTC().Format(RecordTimeLayout),
	}
}

// AppointmentRecordFromValues parses a row produced by Values.
func AppointmentRecordFromValues(values []string) (AppointmentRecord, error) {
	if len(values) != AppointmentColumns {
		return AppointmentRecord{}, ErrRecordColumns
	}
	completedAt, err := time.Parse(RecordTimeLayout, values[5])
	if err != nil {
		return AppointmentRecord{}, fmt.Errorf("invalid completion time %q: %w", values[5], err)
	}
	return AppointmentRecord{
		SenderID:    values[0],
		Name:        values[1],
		PetName:     values[2],
		PetType:     values[3],
		Reason:      values[4],
		CompletedAt: completedAt,
	}, nil
}
