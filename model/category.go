package model

// MaxAttachmentBytes is the largest image accepted by any form.
const MaxAttachmentBytes = 5 << 20

// Category groups services in the catalog.
type Category struct {
	ID           string `json:"_id"`
	CategoryName string `json:"categoryName"`
	Description  string `json:"description"`
	Images       string `json:"images,omitempty"`
	IsDelete     bool   `json:"isDelete"`
}

// ResourceID implements Resource.
func (c Category) ResourceID() string { return c.ID }

// CategoryInput is the create form. The image is mandatory.
type CategoryInput struct {
	CategoryName string      `json:"categoryName" validate:"required,max=120"`
	Description  string      `json:"description"  validate:"required"`
	Image        *Attachment `json:"image"        validate:"required"`
}

// Payload implements Submission.
func (in CategoryInput) Payload() Payload {
	return categoryPayload(in.CategoryName, in.Description, in.Image)
}

// Check implements Checker.
func (in CategoryInput) Check() []FieldError {
	return checkAttachment("image", in.Image)
}

// CategoryUpdate is the edit form. A nil image keeps the current one.
type CategoryUpdate struct {
	CategoryName string      `json:"categoryName" validate:"required,max=120"`
	Description  string      `json:"description"  validate:"required"`
	Image        *Attachment `json:"image"`
}

// Payload implements Submission.
func (in CategoryUpdate) Payload() Payload {
	return categoryPayload(in.CategoryName, in.Description, in.Image)
}

// Check implements Checker.
func (in CategoryUpdate) Check() []FieldError {
	return checkAttachment("image", in.Image)
}

func categoryPayload(name, description string, image *Attachment) Payload {
	p := Payload{Fields: map[string]any{
		"categoryName": name,
		"description":  description,
	}}
	if image != nil {
		a := *image
		a.Field = "image"
		p.Attachments = append(p.Attachments, a)
	}
	return p
}

// Checker is implemented by inputs with rules that struct tags cannot
// express. It runs after tag validation.
type Checker interface {
	Check() []FieldError
}

func checkAttachment(field string, a *Attachment) []FieldError {
	if a == nil || a.Size() <= MaxAttachmentBytes {
		return nil
	}
	return []FieldError{{
		Field:   field,
		Code:    "FILE_TOO_LARGE",
		Message: "File must be 5 MB or smaller",
	}}
}
