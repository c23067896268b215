package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// readJSONL decodes every line of path into T, skipping a missing file
// (nothing to resume from yet).
func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("pipeline: decode %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}
