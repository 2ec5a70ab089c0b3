package main

import (
	"strings"

	"jobpulse/internal/usecase"
)

func forceRunInput(terms, sources string) usecase.ForceRunInput {
	return usecase.ForceRunInput{Terms: splitCSV(terms), Sources: splitCSV(sources)}
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
