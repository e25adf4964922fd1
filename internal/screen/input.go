package screen

import (
	"bytes"
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"strconv"
	"strings"

	"github.com/pitabwire/backoffice/model"
)

// Input is a raw create or update submission. JSON bodies fill Fields;
// multipart bodies fill Form and Files.
type Input struct {
	Fields map[string]any
	Form   map[string][]string
	Files  []model.Attachment
}

// File returns the first attachment submitted under field, or nil.
func (in Input) File(field string) *model.Attachment {
	for i := range in.Files {
		if in.Files[i].Field == field {
			a := in.Files[i]
			return &a
		}
	}
	return nil
}

// FilesFor returns every attachment submitted under field.
func (in Input) FilesFor(field string) []model.Attachment {
	var out []model.Attachment
	for _, f := range in.Files {
		if f.Field == field {
			out = append(out, f)
		}
	}
	return out
}

// decodeInto fills target, a pointer to an input struct, from in. Form
// values are converted to the types of the matching json-tagged fields.
func decodeInto(in Input, target any) error {
	fields := make(map[string]any, len(in.Fields)+len(in.Form))
	maps.Copy(fields, in.Fields)
	if len(in.Form) > 0 {
		coerced, err := coerceForm(in.Form, reflect.TypeOf(target).Elem())
		if err != nil {
			return err
		}
		maps.Copy(fields, coerced)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return model.NewBadRequestError("Malformed request body")
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return invalidType(typeErr.Field)
		}
		return model.NewBadRequestError("Malformed request body")
	}
	return nil
}

// coerceForm converts multipart values for the fields of t. Keys that t
// does not declare are ignored.
func coerceForm(form map[string][]string, t reflect.Type) (map[string]any, error) {
	out := make(map[string]any)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" || !f.IsExported() {
			continue
		}
		values, ok := form[name]
		if !ok || len(values) == 0 {
			continue
		}
		first := strings.TrimSpace(values[0])

		switch f.Type.Kind() {
		case reflect.String:
			out[name] = values[0]
		case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
			if first == "" {
				continue
			}
			n, err := strconv.ParseFloat(first, 64)
			if err != nil {
				return nil, invalidType(name)
			}
			out[name] = n
		case reflect.Bool:
			if first == "" {
				continue
			}
			b, err := strconv.ParseBool(first)
			if err != nil {
				return nil, invalidType(name)
			}
			out[name] = b
		case reflect.Slice:
			if f.Type.Elem().Kind() == reflect.String && !strings.HasPrefix(first, "[") {
				out[name] = values
				continue
			}
			fallthrough
		default:
			if f.Type == reflect.TypeOf(&model.Attachment{}) {
				continue
			}
			if !json.Valid([]byte(first)) {
				return nil, invalidType(name)
			}
			out[name] = json.RawMessage(first)
		}
	}
	return out, nil
}

func invalidType(field string) error {
	return model.NewValidationError([]model.FieldError{{
		Field:   field,
		Code:    "INVALID_TYPE",
		Message: "Has the wrong type",
	}})
}
