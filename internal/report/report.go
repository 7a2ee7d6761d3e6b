package report

import (
	"encoding/json"
	"os"

	"example.com/u3vlog/internal/analyzer"
)

func SaveAcceptanceJSON(rep analyzer.AcceptanceReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadAcceptanceJSON(path string) (analyzer.AcceptanceReport, error) {
	var rep analyzer.AcceptanceReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
