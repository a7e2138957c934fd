package exports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const jsonFileExtension = ".json"

// followRecord mirrors the subject field of an app.bsky.graph.follow record
// as written by Bluesky repository export tooling.
type followRecord struct {
	Subject string `json:"subject"`
}

// ReadBlueskyFollowRecords walks a directory of per-follow JSON record files
// and returns the subject of each record in directory order. Subjects are
// usually DIDs and need resolving to handles before conversion. Files that
// are not JSON or lack a subject are skipped.
func ReadBlueskyFollowRecords(directoryPath string) ([]string, error) {
	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		return nil, fmt.Errorf("read follow record directory: %w", err)
	}

	subjects := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), jsonFileExtension) {
			continue
		}
		recordBytes, readErr := os.ReadFile(filepath.Join(directoryPath, entry.Name()))
		if readErr != nil {
			continue
		}
		var record followRecord
		if unmarshalErr := json.Unmarshal(recordBytes, &record); unmarshalErr != nil {
			continue
		}
		subject := strings.TrimSpace(record.Subject)
		if subject == "" {
			continue
		}
		subjects = append(subjects, subject)
	}
	return subjects, nil
}
