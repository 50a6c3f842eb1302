package models

import "fmt"

// ModelInfo describes one model advertised by the backend catalog.
type ModelInfo struct {
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	Modified         string `json:"modified"`
	IsEmbeddingModel bool   `json:"isEmbeddingModel"`
	SupportsImages   bool   `json:"supportsImages"`
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count in the largest unit that keeps the
// value above one.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[unit])
}
