package model

import "slices"

// Variant names a display-field shape.
type Variant string

const (
	VariantCalendar Variant = "calendar"
	VariantClass    Variant = "class"
)

// EventFields are the display fields of a calendar event.
type EventFields struct {
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Location     string   `json:"location,omitempty" yaml:"location"`
	Status       string   `json:"status,omitempty" yaml:"status"`
	Color        string   `json:"color,omitempty" yaml:"color"`
	Participants []string `json:"participants,omitempty" yaml:"participants"`
	AllDay       bool     `json:"all_day,omitempty" yaml:"all_day"`
}

// EventPatch is a partial update of EventFields. Nil fields are left as-is.
type EventPatch struct {
	Title        *string  `json:"title,omitempty" yaml:"title"`
	Description  *string  `json:"description,omitempty" yaml:"description"`
	Location     *string  `json:"location,omitempty" yaml:"location"`
	Status       *string  `json:"status,omitempty" yaml:"status"`
	Color        *string  `json:"color,omitempty" yaml:"color"`
	Participants []string `json:"participants,omitempty" yaml:"participants"`
}

// Apply implements Fields.
func (f EventFields) Apply(p EventPatch) EventFields {
	out := f
	out.Participants = slices.Clone(f.Participants)
	setString(&out.Title, p.Title)
	setString(&out.Description, p.Description)
	setString(&out.Location, p.Location)
	setString(&out.Status, p.Status)
	setString(&out.Color, p.Color)
	if p.Participants != nil {
		out.Participants = slices.Clone(p.Participants)
	}
	return out
}

// ClassFields are the display fields of a class session.
type ClassFields struct {
	Title    string   `json:"title" yaml:"title"`
	Subject  string   `json:"subject,omitempty" yaml:"subject"`
	Tutor    string   `json:"tutor,omitempty" yaml:"tutor"`
	Room     string   `json:"room,omitempty" yaml:"room"`
	Status   string   `json:"status,omitempty" yaml:"status"`
	Theme    string   `json:"theme,omitempty" yaml:"theme"`
	Students []string `json:"students,omitempty" yaml:"students"`
}

// ClassPatch is a partial update of ClassFields.
type ClassPatch struct {
	Title    *string  `json:"title,omitempty" yaml:"title"`
	Subject  *string  `json:"subject,omitempty" yaml:"subject"`
	Tutor    *string  `json:"tutor,omitempty" yaml:"tutor"`
	Room     *string  `json:"room,omitempty" yaml:"room"`
	Status   *string  `json:"status,omitempty" yaml:"status"`
	Theme    *string  `json:"theme,omitempty" yaml:"theme"`
	Students []string `json:"students,omitempty" yaml:"students"`
}

// Apply implements Fields.
func (f ClassFields) Apply(p ClassPatch) ClassFields {
	out := f
	out.Students = slices.Clone(f.Students)
	setString(&out.Title, p.Title)
	setString(&out.Subject, p.Subject)
	setString(&out.Tutor, p.Tutor)
	setString(&out.Room, p.Room)
	setString(&out.Status, p.Status)
	setString(&out.Theme, p.Theme)
	if p.Students != nil {
		out.Students = slices.Clone(p.Students)
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

type (
	CalendarEntry      = Entry[EventFields, EventPatch]
	CalendarOccurrence = Occurrence[EventFields]
	ClassEntry         = Entry[ClassFields, ClassPatch]
	ClassOccurrence    = Occurrence[ClassFields]
)
