package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"siteplan/domain"
)

// SeedFile is the layout of a project fixture.
type SeedFile struct {
	Project string        `yaml:"project" toml:"project"`
	Tasks   []domain.Task `yaml:"tasks" toml:"tasks"`
}

// LoadSeed reads a project fixture from path: TOML for a .toml file, YAML
// otherwise.
func LoadSeed(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseSeedTOML(data)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML fixture. Tasks without an id are rejected since
// dependencies refer to tasks by id.
func ParseSeed(data []byte) (SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed: %w", err)
	}
	return checkSeed(seed)
}

// ParseSeedTOML decodes a TOML fixture with one [[tasks]] table per task.
// Dates must be quoted strings.
func ParseSeedTOML(data []byte) (SeedFile, error) {
	var seed SeedFile
	if _, err := toml.Decode(string(data), &seed); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed: %w", err)
	}
	return checkSeed(seed)
}

// checkSeed applies the required fields of intake to fixture tasks, which
// are stored without passing through domain.NewTask, and rejects repeated ids.
func checkSeed(seed SeedFile) (SeedFile, error) {
	seen := make(map[string]int, len(seed.Tasks))
	for i := range seed.Tasks {
		t := &seed.Tasks[i]
		var missing []string
		if t.ID == "" {
			missing = append(missing, "id")
		}
		if strings.TrimSpace(t.Name) == "" {
			missing = append(missing, "name")
		}
		if t.StartDate.IsZero() {
			missing = append(missing, "startDate")
		}
		if strings.TrimSpace(t.Manager) == "" {
			missing = append(missing, "manager")
		}
		if len(missing) > 0 {
			return SeedFile{}, fmt.Errorf("seed task %d (%q) has no %s", i, t.Name, strings.Join(missing, ", "))
		}
		if prev, ok := seen[t.ID]; ok {
			return SeedFile{}, fmt.Errorf("seed tasks %d and %d share id %q", prev, i, t.ID)
		}
		seen[t.ID] = i
		if t.Dependencies == nil {
			t.Dependencies = []string{}
		}
	}
	return seed, nil
}

// DefaultSeed is the built-in demo project.
func DefaultSeed() SeedFile {
	return SeedFile{
		Project: "台北信義建案 A1",
		Tasks: []domain.Task{
			{ID: "1", Name: "地基開挖工程", StartDate: domain.MustParseDate("2023-10-01"), Duration: 15, Progress: 100, Category: "土木", Manager: "陳大文", Dependencies: []string{}},
			{ID: "2", Name: "鋼筋綁紮與模板", StartDate: domain.MustParseDate("2023-10-18"), Duration: 20, Progress: 80, Category: "結構", Manager: "張小明", Dependencies: []string{"1"}},
			{ID: "3", Name: "混凝土灌漿", StartDate: domain.MustParseDate("2023-11-10"), Duration: 10, Progress: 20, Category: "結構", Manager: "李志豪", Dependencies: []string{"2"}},
			{ID: "4", Name: "機電管線配置", StartDate: domain.MustParseDate("2023-11-15"), Duration: 12, Progress: 0, Category: "水電", Manager: "王建國", Dependencies: []string{"2"}},
			{ID: "5", Name: "外牆貼磚工程", StartDate: domain.MustParseDate("2023-12-01"), Duration: 25, Progress: 0, Category: "裝修", Manager: "林美玲", Dependencies: []string{"3"}},
		},
	}
}
