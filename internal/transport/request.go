package transport

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/pitabwire/backoffice/internal/screen"
	"github.com/pitabwire/backoffice/model"
)

// defaultMaxBodyBytes bounds JSON bodies and multipart bodies when no upload
// limit is configured.
const defaultMaxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return bodyError(err)
	}
	return nil
}

// readInput parses a create or update body. Multipart bodies keep their
// string values and files; anything else is decoded as a JSON object.
func readInput(w http.ResponseWriter, r *http.Request, maxBytes int64) (screen.Input, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var fields map[string]any
		if err := decodeJSON(w, r, &fields); err != nil {
			return screen.Input{}, err
		}
		return screen.Input{Fields: fields}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return screen.Input{}, bodyError(err)
	}
	defer r.MultipartForm.RemoveAll()

	in := screen.Input{Form: r.MultipartForm.Value}
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return screen.Input{}, model.NewBadRequestError("Unreadable upload")
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return screen.Input{}, model.NewBadRequestError("Unreadable upload")
			}
			contentType := fh.Header.Get("Content-Type")
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}
			in.Files = append(in.Files, model.Attachment{
				Field:       field,
				Filename:    fh.Filename,
				ContentType: contentType,
				Data:        data,
			})
		}
	}
	return in, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.NewBadRequestError("Request body too large")
	}
	return model.NewBadRequestError("Malformed request body")
}
