package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Task is a named checklist shown on a service.
type Task struct {
	Title    string   `json:"title"    validate:"required"`
	TaskList []string `json:"taskList"`
}

// Service is a bookable offering.
type Service struct {
	ID               string   `json:"_id"`
	ServiceName      string   `json:"serviceName"`
	Category         Ref      `json:"categoryId"`
	ShortDescription string   `json:"shortDescription,omitempty"`
	FullDescription  string   `json:"fullDescription,omitempty"`
	BasePrice        float64  `json:"basePrice"`
	Address          string   `json:"address,omitempty"`
	Images           []string `json:"images,omitempty"`
	Tasks            []Task   `json:"tasks,omitempty"`
}

// ResourceID implements Resource.
func (s Service) ResourceID() string { return s.ID }

// ServiceInput is the create and edit form for services. KeepImages lists
// already uploaded image URLs that survive an edit.
type ServiceInput struct {
	ServiceName      string       `json:"serviceName"      validate:"required,max=200"`
	CategoryID       string       `json:"categoryId"       validate:"required"`
	ShortDescription string       `json:"shortDescription" validate:"max=500"`
	FullDescription  string       `json:"fullDescription"`
	BasePrice        float64      `json:"basePrice"        validate:"gt=0"`
	Address          string       `json:"address"`
	Images           []Attachment `json:"-"`
	KeepImages       []string     `json:"keepImages"`
	Tasks            []Task       `json:"tasks"            validate:"dive"`
}

// Payload implements Submission. Tasks travel as a JSON string field the way
// the remote API expects them inside multipart bodies.
func (in ServiceInput) Payload() Payload {
	tasks := in.Tasks
	if tasks == nil {
		tasks = []Task{}
	}
	encoded, _ := json.Marshal(tasks)
	p := Payload{Fields: map[string]any{
		"serviceName":      in.ServiceName,
		"categoryId":       in.CategoryID,
		"shortDescription": in.ShortDescription,
		"fullDescription":  in.FullDescription,
		"basePrice":        strconv.FormatFloat(in.BasePrice, 'f', -1, 64),
		"address":          in.Address,
		"tasks":            string(encoded),
	}}
	if len(in.KeepImages) > 0 {
		p.Fields["images"] = in.KeepImages
	}
	for _, img := range in.Images {
		img.Field = "images"
		p.Attachments = append(p.Attachments, img)
	}
	return p
}

// Check implements Checker.
func (in ServiceInput) Check() []FieldError {
	var errs []FieldError
	for i := range in.Images {
		errs = append(errs, checkAttachment(fmt.Sprintf("images[%d]", i), &in.Images[i])...)
	}
	return errs
}
