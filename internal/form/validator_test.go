package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/backoffice/model"
)

func fieldCodes(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	env := model.AsEnvelope(err)
	require.Equal(t, model.ErrValidationError, env.Code)
	out := make(map[string]string, len(env.Details))
	for _, d := range env.Details {
		out[d.Field] = d.Code
	}
	return out
}

func TestValidate_CategoryInput(t *testing.T) {
	v := NewValidator()

	ok := model.CategoryInput{
		CategoryName: "A",
		Description:  "d",
		Image:        &model.Attachment{Filename: "a.png", Data: []byte("x")},
	}
	assert.NoError(t, v.Validate(ok))

	codes := fieldCodes(t, v.Validate(model.CategoryInput{Description: "d"}))
	assert.Equal(t, "REQUIRED", codes["categoryName"])
	assert.Equal(t, "REQUIRED", codes["image"])
	assert.NotContains(t, codes, "description")
}

func TestValidate_CategoryInput_FileTooLarge(t *testing.T) {
	v := NewValidator()
	in := model.CategoryInput{
		CategoryName: "A",
		Description:  "d",
		Image:        &model.Attachment{Filename: "big.png", Data: make([]byte, model.MaxAttachmentBytes+1)},
	}
	codes := fieldCodes(t, v.Validate(in))
	assert.Equal(t, "FILE_TOO_LARGE", codes["image"])
}

func TestValidate_UserInput(t *testing.T) {
	v := NewValidator()
	in := model.UserInput{
		Name:               "Ann",
		Email:              "not-an-email",
		Role:               "owner",
		DiscountPercentage: 120,
		Creating:           true,
	}
	codes := fieldCodes(t, v.Validate(in))
	assert.Equal(t, "INVALID_EMAIL", codes["email"])
	assert.Equal(t, "INVALID_OPTION", codes["role"])
	assert.Equal(t, "OUT_OF_RANGE", codes["discountPercentage"])
	assert.Equal(t, "REQUIRED", codes["password"])
}

func TestValidate_ServiceInput(t *testing.T) {
	v := NewValidator()
	in := model.ServiceInput{
		ServiceName: "Cut",
		CategoryID:  "c1",
		Tasks:       []model.Task{{Title: ""}},
	}
	codes := fieldCodes(t, v.Validate(in))
	assert.Equal(t, "OUT_OF_RANGE", codes["basePrice"])
	assert.Equal(t, "REQUIRED", codes["tasks[0].title"])
}

func TestValidate_ScheduleInput(t *testing.T) {
	v := NewValidator()

	ok := model.ScheduleInput{Days: []model.ScheduleDay{
		{Day: "Monday", StartTime: "09:00", EndTime: "17:00"},
		{Day: "Sunday"},
	}}
	assert.NoError(t, v.Validate(ok))

	bad := model.ScheduleInput{Days: []model.ScheduleDay{
		{Day: "Monday", StartTime: "9am", EndTime: "17:00"},
		{Day: "Tuesday", StartTime: "18:00", EndTime: "10:00"},
	}}
	codes := fieldCodes(t, v.Validate(bad))
	assert.Equal(t, "INVALID_TIME", codes["days[0].startTime"])
	assert.Equal(t, "INVALID_RANGE", codes["days.Tuesday"])
}
