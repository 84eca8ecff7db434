package upload

import (
	"fmt"
	"strings"
)

// normalizeTypes lowercases MIME types and drops parameters and duplicates.
func normalizeTypes(in []string) map[string]struct{} {
	if len(in) == 0 {
		in = DefaultAllowedTypes()
	}
	allowed := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = baseType(t)
		if t == "" {
			continue
		}
		allowed[t] = struct{}{}
	}
	return allowed
}

func baseType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// validateFile checks type and size. Capacity is checked per batch by the caller.
func (q *Queue) validateFile(src Source) error {
	if _, ok := q.allowedTypes[baseType(src.ContentType())]; !ok {
		return &ValidationError{Name: src.Name(), Reason: ErrTypeNotAllowed, Detail: src.ContentType()}
	}
	if src.Size() > q.maxFileSize {
		return &ValidationError{
			Name:   src.Name(),
			Reason: ErrFileTooLarge,
			Detail: fmt.Sprintf("%d bytes, limit %d", src.Size(), q.maxFileSize),
		}
	}
	return nil
}
