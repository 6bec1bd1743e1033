package results

import (
	"errors"
	"testing"
)

func TestValidateItem(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr error
	}{
		{
			name:    "empty id",
			item:    Item{Type: TypeMetric, Data: MetricPayload{Title: "x"}},
			wantErr: ErrEmptyID,
		},
		{
			name:    "unknown type",
			item:    Item{ID: "1", Type: "hologram", Data: "x"},
			wantErr: ErrUnknownType,
		},
		{
			name:    "nil payload",
			item:    Item{ID: "1", Type: TypeInsight},
			wantErr: ErrEmptyPayload,
		},
		{
			name: "chart spec as string",
			item: Item{ID: "1", Type: TypeChartSpec, Data: `{"series":[]}`},
		},
		{
			name: "chart spec as decoded map",
			item: Item{ID: "1", Type: TypeChartSpec, Data: map[string]any{"series": []any{}}},
		},
		{
			name:    "chart spec with empty string",
			item:    Item{ID: "1", Type: TypeChartSpec, Data: ""},
			wantErr: ErrEmptyPayload,
		},
		{
			name:    "image with numeric payload",
			item:    Item{ID: "1", Type: TypeImage, Data: 42},
			wantErr: ErrPayloadShape,
		},
		{
			name: "table with columns",
			item: Item{ID: "1", Type: TypeTable, Data: TablePayload{Columns: []string{"a"}}},
		},
		{
			name:    "table without columns",
			item:    Item{ID: "1", Type: TypeTable, Data: TablePayload{}},
			wantErr: ErrPayloadShape,
		},
		{
			name: "csv table round-tripped through JSON",
			item: Item{ID: "1", Type: TypeCSVTable, Data: map[string]any{
				"columns": []any{"a"}, "rows": []any{},
			}},
		},
		{
			name:    "csv table map missing rows",
			item:    Item{ID: "1", Type: TypeCSVTable, Data: map[string]any{"columns": []any{"a"}}},
			wantErr: ErrPayloadShape,
		},
		{
			name: "metric with value only",
			item: Item{ID: "1", Type: TypeMetric, Data: MetricPayload{Value: "42"}},
		},
		{
			name:    "metric with neither title nor value",
			item:    Item{ID: "1", Type: TypeMetric, Data: MetricPayload{Unit: "%"}},
			wantErr: ErrPayloadShape,
		},
		{
			name: "insight as bare string",
			item: Item{ID: "1", Type: TypeInsight, Data: "sales are up"},
		},
		{
			name:    "insight map without text",
			item:    Item{ID: "1", Type: TypeInsight, Data: map[string]any{"source": "x"}},
			wantErr: ErrPayloadShape,
		},
		{
			name: "file with name",
			item: Item{ID: "1", Type: TypeFile, Data: FilePayload{Name: "report.xlsx"}},
		},
		{
			name:    "file without name",
			item:    Item{ID: "1", Type: TypeFile, Data: FilePayload{Path: "/tmp/x"}},
			wantErr: ErrPayloadShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItem(tt.item)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
