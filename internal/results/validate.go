package results

import (
	"errors"
	"fmt"
)

// Validation errors for restored items.
var (
	ErrEmptyID      = errors.New("empty item id")
	ErrUnknownType  = errors.New("unknown item type")
	ErrEmptyPayload = errors.New("empty payload")
	ErrPayloadShape = errors.New("payload shape does not match item type")
)

// ValidateItem checks an item against the minimal schema restoration
// requires: a non-empty id, a recognized type, and a payload whose shape
// matches the declared type. Invalid items are dropped by RestoreResults
// and reported in the statistics rather than aborting the restoration.
func ValidateItem(item Item) error {
	if item.ID == "" {
		return ErrEmptyID
	}
	if !ValidItemTypes[item.Type] {
		return fmt.Errorf("%w: %q", ErrUnknownType, item.Type)
	}
	if item.Data == nil {
		return ErrEmptyPayload
	}

	switch item.Type {
	case TypeChartSpec, TypeImage:
		return validateOpaque(item.Data)
	case TypeTable, TypeCSVTable:
		return validateTable(item.Data)
	case TypeMetric:
		return validateMetric(item.Data)
	case TypeInsight:
		return validateInsight(item.Data)
	case TypeFile:
		return validateFile(item.Data)
	}
	return nil
}

// validateOpaque accepts any non-empty string payload. Chart specs and
// images are opaque to this core; rendering is the view's concern.
func validateOpaque(data any) error {
	if s, ok := data.(string); ok {
		if s == "" {
			return ErrEmptyPayload
		}
		return nil
	}
	// Structured chart specs decoded from JSON arrive as maps.
	if m, ok := data.(map[string]any); ok {
		if len(m) == 0 {
			return ErrEmptyPayload
		}
		return nil
	}
	return ErrPayloadShape
}

func validateTable(data any) error {
	switch v := data.(type) {
	case TablePayload:
		if len(v.Columns) == 0 {
			return fmt.Errorf("%w: table without columns", ErrPayloadShape)
		}
		return nil
	case map[string]any:
		// Persisted tables round-trip through JSON as generic maps.
		if _, ok := v["columns"]; !ok {
			return fmt.Errorf("%w: table without columns", ErrPayloadShape)
		}
		if _, ok := v["rows"]; !ok {
			return fmt.Errorf("%w: table without rows", ErrPayloadShape)
		}
		return nil
	default:
		return ErrPayloadShape
	}
}

func validateMetric(data any) error {
	switch v := data.(type) {
	case MetricPayload:
		if v.Title == "" && v.Value == "" {
			return fmt.Errorf("%w: metric without title or value", ErrPayloadShape)
		}
		return nil
	case map[string]any:
		if v["title"] == nil && v["value"] == nil {
			return fmt.Errorf("%w: metric without title or value", ErrPayloadShape)
		}
		return nil
	default:
		return ErrPayloadShape
	}
}

func validateInsight(data any) error {
	switch v := data.(type) {
	case InsightPayload:
		if v.Text == "" {
			return fmt.Errorf("%w: insight without text", ErrPayloadShape)
		}
		return nil
	case string:
		if v == "" {
			return ErrEmptyPayload
		}
		return nil
	case map[string]any:
		if t, _ := v["text"].(string); t == "" {
			return fmt.Errorf("%w: insight without text", ErrPayloadShape)
		}
		return nil
	default:
		return ErrPayloadShape
	}
}

func validateFile(data any) error {
	switch v := data.(type) {
	case FilePayload:
		if v.Name == "" {
			return fmt.Errorf("%w: file without name", ErrPayloadShape)
		}
		return nil
	case map[string]any:
		if n, _ := v["name"].(string); n == "" {
			return fmt.Errorf("%w: file without name", ErrPayloadShape)
		}
		return nil
	default:
		return ErrPayloadShape
	}
}
