package invoker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strings"

	"github.com/pitabwire/backoffice/model"
)

// encodePayload serializes p as JSON, or as multipart/form-data when it
// carries attachments. A nil payload produces no body.
func encodePayload(p *model.Payload) ([]byte, string, error) {
	if p == nil {
		return nil, "", nil
	}
	if !p.HasAttachments() {
		fields := p.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, "", err
		}
		return b, "application/json", nil
	}
	return encodeMultipart(p)
}

func encodeMultipart(p *model.Payload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		values, err := formValues(p.Fields[k])
		if err != nil {
			return nil, "", fmt.Errorf("field %s: %w", k, err)
		}
		for _, v := range values {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}

	for _, a := range p.Attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(a.Field), escapeQuotes(a.Filename)))
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// formValues flattens a field value into multipart text values. String
// slices repeat the field; other composites travel as JSON text.
func formValues(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []string{string(b)}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
