package model

// Weekdays in display order.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// ScheduleDay is a staff member's hours on one weekday. Empty times mean
// the day is off.
type ScheduleDay struct {
	Day       string `json:"day"       validate:"required"`
	StartTime string `json:"startTime" validate:"omitempty,hhmm"`
	EndTime   string `json:"endTime"   validate:"omitempty,hhmm"`
}

// WorkSchedule is the weekly schedule of one staff member.
type WorkSchedule struct {
	ID   string        `json:"_id"`
	User Ref           `json:"userId"`
	Days []ScheduleDay `json:"days"`
}

// ResourceID implements Resource. Schedules are edited by user.
func (w WorkSchedule) ResourceID() string {
	if w.User.ID != "" {
		return w.User.ID
	}
	return w.ID
}

// ScheduleInput replaces the days of a schedule.
type ScheduleInput struct {
	Days []ScheduleDay `json:"days" validate:"max=7,dive"`
}

// Payload implements Submission.
func (in ScheduleInput) Payload() Payload {
	days := make([]map[string]any, 0, len(in.Days))
	for _, d := range in.Days {
		days = append(days, map[string]any{"day": d.Day, "startTime": d.StartTime, "endTime": d.EndTime})
	}
	return Payload{Fields: map[string]any{"days": days}}
}

// Check implements Checker. Valid HH:mm strings compare lexically in time
// order.
func (in ScheduleInput) Check() []FieldError {
	var errs []FieldError
	for _, d := range in.Days {
		if d.StartTime != "" && d.EndTime != "" && d.StartTime >= d.EndTime {
			errs = append(errs, FieldError{
				Field:   "days." + d.Day,
				Code:    "INVALID_RANGE",
				Message: "Start time must be before end time",
			})
		}
	}
	return errs
}
