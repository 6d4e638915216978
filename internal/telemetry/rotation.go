package telemetry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bioreactor-controller/internal/logger"
)

// PruneOldFiles keeps the maxDays most recent daily logs in dir and deletes
// the rest. maxDays <= 0 keeps everything.
func PruneOldFiles(dir string, maxDays int) {
	if maxDays <= 0 {
		return
	}

	files, err := logFiles(dir)
	if err != nil {
		logger.Error("PruneOldFiles: Failed to read directory: %v", err)
		return
	}
	if len(files) <= maxDays {
		return
	}

	for _, filename := range files[:len(files)-maxDays] {
		fullPath := filepath.Join(dir, filename)
		if err := os.Remove(fullPath); err != nil {
			logger.Warn("Failed to prune old log file %s: %v", filename, err)
		} else {
			logger.Info("Pruned old log file: %s", filename)
		}
	}
}

// logFiles lists the daily logs in dir, oldest first. YYYY-MM-DD names sort
// chronologically.
func logFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func isLogFile(name string) bool {
	date, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		return false
	}
	_, err := time.Parse(dateLayout, date)
	return err == nil
}
