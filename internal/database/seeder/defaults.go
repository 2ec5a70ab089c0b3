package seeder

// Defaults returns the seeders for a fresh database. Demo subscribers are
// only added in development.
func Defaults(sources []SourceSeed, development bool) []Seeder {
	out := []Seeder{JobSourcesSeeder{Sources: sources}}
	if development {
		out = append(out, DemoSubscribersSeeder{})
	}
	return out
}
