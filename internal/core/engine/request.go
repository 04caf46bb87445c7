package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
)

// DefaultUserAgent identifies the scheduler to the API.
const DefaultUserAgent = "DiscordBot (https://github.com/namelens/ratelane, 1.0)"

// RawFile is a file attached to a multipart request.
type RawFile struct {
	Key         string
	Name        string
	ContentType string
	Data        []byte
}

// RequestOptions carries the optional parts of a submitted request.
type RequestOptions struct {
	// Body is encoded as JSON unless PassThroughBody is set, in which case it
	// must be a []byte or string and is sent as is.
	Body             any
	PassThroughBody  bool
	Files            []RawFile
	AppendToFormData bool

	NoAuth      bool
	AuthPrefix  string
	Unversioned bool

	Headers map[string]string
	Query   url.Values
	Reason  string

	RejectPolicy RejectPolicy
}

// resolveRequest builds the URL, headers and encoded body for a request.
func (m *Manager) resolveRequest(method, routePath string, opts RequestOptions) (*Request, error) {
	header := make(http.Header)
	for key, value := range opts.Headers {
		header.Set(key, value)
	}

	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	for key, value := range m.opts.Headers {
		header.Set(key, value)
	}
	header.Set("User-Agent", strings.TrimSpace(DefaultUserAgent+" "+m.opts.UserAgentAppendix))

	auth := !opts.NoAuth
	if auth {
		token := m.currentToken()
		if token == "" {
			return nil, ErrNoToken
		}
		prefix := opts.AuthPrefix
		if prefix == "" {
			prefix = m.opts.AuthPrefix
		}
		header.Set("Authorization", prefix+" "+token)
	}

	if opts.Reason != "" {
		header.Set("X-Audit-Log-Reason", url.PathEscape(opts.Reason))
	}

	target := m.opts.API
	if !opts.Unversioned && m.opts.Version != "" {
		target += "/v" + m.opts.Version
	}
	target += routePath
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	return &Request{
		Method:       method,
		URL:          target,
		Header:       header,
		Body:         body,
		Data:         opts.Body,
		Auth:         auth,
		RejectPolicy: opts.RejectPolicy,
	}, nil
}

func encodeBody(opts RequestOptions) ([]byte, string, error) {
	if len(opts.Files) > 0 {
		return encodeMultipart(opts)
	}
	if opts.Body == nil {
		return nil, "", nil
	}
	if opts.PassThroughBody {
		switch v := opts.Body.(type) {
		case []byte:
			return v, "", nil
		case string:
			return []byte(v), "", nil
		default:
			return nil, "", fmt.Errorf("pass-through body must be []byte or string, got %T", opts.Body)
		}
	}
	encoded, err := json.Marshal(opts.Body)
	if err != nil {
		return nil, "", fmt.Errorf("encode request body: %w", err)
	}
	return encoded, "application/json", nil
}

func encodeMultipart(opts RequestOptions) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for i, file := range opts.Files {
		key := file.Key
		if key == "" {
			key = fmt.Sprintf("files[%d]", i)
		}
		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, key, file.Name))
		contentType := file.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(file.Data)
		}
		partHeader.Set("Content-Type", contentType)
		part, err := writer.CreatePart(partHeader)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}

	if opts.Body != nil {
		if opts.AppendToFormData {
			fields, err := formFields(opts.Body)
			if err != nil {
				return nil, "", err
			}
			for _, field := range fields {
				if err := writer.WriteField(field.key, field.value); err != nil {
					return nil, "", fmt.Errorf("write form field: %w", err)
				}
			}
		} else {
			encoded, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, "", fmt.Errorf("encode payload_json: %w", err)
			}
			if err := writer.WriteField("payload_json", string(encoded)); err != nil {
				return nil, "", fmt.Errorf("write payload_json: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

type formField struct {
	key   string
	value string
}

func formFields(body any) ([]formField, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode form body: %w", err)
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &values); err != nil {
		return nil, fmt.Errorf("form body must be an object: %w", err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := make([]formField, 0, len(keys))
	for _, key := range keys {
		raw := values[key]
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			text = string(raw)
		}
		fields = append(fields, formField{key: key, value: text})
	}
	return fields, nil
}

func splitQuery(fullPath string) (string, url.Values) {
	routePath, rawQuery, found := strings.Cut(fullPath, "?")
	if !found {
		return fullPath, nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return routePath, nil
	}
	return routePath, values
}

func mergeQuery(base, extra url.Values) url.Values {
	merged := make(url.Values, len(base)+len(extra))
	for key, values := range base {
		merged[key] = append(merged[key], values...)
	}
	for key, values := range extra {
		merged[key] = append(merged[key], values...)
	}
	return merged
}
