package worker

import (
	"bufio"
	"encoding/json"
	"os"
)

// Usage holds the four token counters reported by the worker tool.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// IsZero reports whether all counters are zero.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Total returns the sum of all four counters.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// usageRecord matches the two known record shapes in the tool's structured
// output: a flat "usage" object with snake_case token keys, or a per-model
// "modelUsage" map with camelCase keys.
type usageRecord struct {
	Usage *struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	ModelUsage map[string]struct {
		InputTokens              int64 `json:"inputTokens"`
		OutputTokens             int64 `json:"outputTokens"`
		CacheReadInputTokens     int64 `json:"cacheReadInputTokens"`
		CacheCreationInputTokens int64 `json:"cacheCreationInputTokens"`
	} `json:"modelUsage"`
}

// ParseUsageLog scans a captured worker log line by line, parses each line
// independently as a JSON record, and accumulates token counters from
// whichever known shape is present. Lines that do not parse are skipped, so
// partial output and interleaved plain-text lines are harmless. The parse is
// idempotent: it always recomputes totals from the full log.
func ParseUsageLog(path string) (Usage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Usage{}, nil
		}
		return Usage{}, err
	}
	defer f.Close()

	var total Usage

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec usageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		switch {
		case rec.Usage != nil:
			total.Add(Usage{
				InputTokens:         rec.Usage.InputTokens,
				OutputTokens:        rec.Usage.OutputTokens,
				CacheReadTokens:     rec.Usage.CacheReadInputTokens,
				CacheCreationTokens: rec.Usage.CacheCreationInputTokens,
			})
		case rec.ModelUsage != nil:
			for _, mu := range rec.ModelUsage {
				total.Add(Usage{
					InputTokens:         mu.InputTokens,
					OutputTokens:        mu.OutputTokens,
					CacheReadTokens:     mu.CacheReadInputTokens,
					CacheCreationTokens: mu.CacheCreationInputTokens,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Usage{}, err
	}

	return total, nil
}
