package worker

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseUsageLog(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want Usage
	}{
		{
			name: "flat usage object",
			log:  `{"usage":{"input_tokens":123,"output_tokens":456,"cache_read_input_tokens":789,"cache_creation_input_tokens":12}}` + "\n",
			want: Usage{InputTokens: 123, OutputTokens: 456, CacheReadTokens: 789, CacheCreationTokens: 12},
		},
		{
			name: "two records accumulate",
			log: `{"usage":{"input_tokens":100}}
{"usage":{"input_tokens":100}}
`,
			want: Usage{InputTokens: 200},
		},
		{
			name: "per-model usage map",
			log:  `{"modelUsage":{"sonnet":{"inputTokens":10,"outputTokens":20,"cacheReadInputTokens":30,"cacheCreationInputTokens":40},"haiku":{"inputTokens":1,"outputTokens":2}}}` + "\n",
			want: Usage{InputTokens: 11, OutputTokens: 22, CacheReadTokens: 30, CacheCreationTokens: 40},
		},
		{
			name: "usage takes precedence over modelUsage on one line",
			log:  `{"usage":{"input_tokens":5},"modelUsage":{"sonnet":{"inputTokens":100}}}` + "\n",
			want: Usage{InputTokens: 5},
		},
		{
			name: "malformed lines skipped",
			log: `plain text progress line
{"usage":{"input_tokens":7}}
{not json at all
{"unrelated":"record"}
`,
			want: Usage{InputTokens: 7},
		},
		{
			name: "empty log",
			log:  "",
			want: Usage{},
		},
		{
			name: "blank lines only",
			log:  "\n\n\n",
			want: Usage{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeLog(t, tt.log)
			got, err := ParseUsageLog(path)
			if err != nil {
				t.Fatalf("ParseUsageLog() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseUsageLog() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseUsageLogMissingFile(t *testing.T) {
	got, err := ParseUsageLog(filepath.Join(t.TempDir(), "never-written.log"))
	if err != nil {
		t.Fatalf("ParseUsageLog() error = %v, want nil for missing file", err)
	}
	if !got.IsZero() {
		t.Errorf("ParseUsageLog() = %+v, want zero", got)
	}
}

func TestParseUsageLogIdempotent(t *testing.T) {
	path := writeLog(t, `{"usage":{"input_tokens":42,"output_tokens":1}}`+"\n")

	first, err := ParseUsageLog(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseUsageLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("repeated parses differ: %+v vs %+v", first, second)
	}
}
