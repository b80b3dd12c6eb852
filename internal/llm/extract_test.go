package llm

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"intent": "list_documents"}`,
			want: `{"intent": "list_documents"}`,
		},
		{
			name: "json fence",
			in:   "Here you go:\n```json\n{\"intent\": \"general_chat\"}\n```",
			want: `{"intent": "general_chat"}`,
		},
		{
			name: "plain fence",
			in:   "```\n{\"valid\": true}\n```",
			want: `{"valid": true}`,
		},
		{
			name: "object inside prose",
			in:   `Sure! The classification is {"intent": "unclear"} as requested.`,
			want: `{"intent": "unclear"}`,
		},
		{
			name: "no object",
			in:   "I cannot answer that.",
			want: "",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSONObject(tt.in); got != tt.want {
				t.Errorf("ExtractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
