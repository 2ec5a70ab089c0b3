package search

import (
	"sort"
	"strings"
)

var aliases = map[string]string{
	"golang":       "go",
	"reactjs":      "react",
	"react.js":     "react",
	"vuejs":        "vue",
	"vue.js":       "vue",
	"nodejs":       "node.js",
	"node":         "node.js",
	"postgres":     "postgresql",
	"psql":         "postgresql",
	"k8s":          "kubernetes",
	"js":           "javascript",
	"ts":           "typescript",
	"py":           "python",
	"ml":           "machine learning",
	"front end":    "frontend",
	"back end":     "backend",
	"full stack":   "fullstack",
	"ui developer": "frontend",
	"c sharp":      "c#",
	"dotnet":       ".net",
}

var vocabulary = []string{
	"go", "python", "java", "javascript", "typescript", "react", "vue",
	"angular", "node.js", "php", "laravel", "django", "flask", "ruby",
	"rails", "c#", ".net", "c++", "rust", "kotlin", "swift", "flutter",
	"postgresql", "mysql", "mongodb", "redis", "kafka", "docker",
	"kubernetes", "aws", "gcp", "azure", "terraform", "linux", "graphql",
	"sql", "machine learning", "data science", "devops", "frontend",
	"backend", "fullstack", "android", "ios", "figma", "seo",
}

func CanonicalSkill(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := aliases[s]; ok {
		return c
	}
	return s
}

// ExtractSkills returns the canonical skills found in tags and free text,
// sorted and without duplicates.
func ExtractSkills(text string, tags ...string) []string {
	found := map[string]struct{}{}
	for _, t := range tags {
		if t = Term(t); t != "" {
			found[t] = struct{}{}
		}
	}

	words := strings.Fields(NormalizeQuery(text))
	for i, w := range words {
		words[i] = strings.TrimRight(w, ".")
	}
	padded := " " + strings.Join(words, " ") + " "
	if strings.TrimSpace(padded) != "" {
		for _, v := range vocabulary {
			if strings.Contains(padded, " "+v+" ") {
				found[v] = struct{}{}
			}
		}
		for alias, canonical := range aliases {
			if strings.Contains(padded, " "+alias+" ") {
				found[canonical] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for s := range found {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
