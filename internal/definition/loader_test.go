package definition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const definitionsDir = "../../definitions"

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	defs, err := l.LoadFile(definitionsDir + "/categories.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("LoadFile() = %d definitions, want 1", len(defs))
	}
	def := defs[0]

	if def.Domain != "categories" {
		t.Errorf("Domain = %q, want categories", def.Domain)
	}
	if def.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", def.Version)
	}
	if def.Navigation.Label != "Categories" {
		t.Errorf("Navigation.Label = %q, want Categories", def.Navigation.Label)
	}
	if len(def.Screens) != 1 {
		t.Fatalf("Screens = %d, want 1", len(def.Screens))
	}
	s := def.Screens[0]
	if s.ID != "categories" {
		t.Errorf("Screen.ID = %q, want categories", s.ID)
	}
	if s.PageSize != 5 {
		t.Errorf("Screen.PageSize = %d, want 5", s.PageSize)
	}
	if s.Debounce != "800ms" {
		t.Errorf("Screen.Debounce = %q, want 800ms", s.Debounce)
	}
	if s.Endpoints.Delete == nil || s.Endpoints.Delete.Path != "/categories/{id}" {
		t.Errorf("Endpoints.Delete = %+v, want /categories/{id}", s.Endpoints.Delete)
	}
	if s.Endpoints.Status != nil {
		t.Errorf("Endpoints.Status = %+v, want nil", s.Endpoints.Status)
	}
	if len(def.Lookups) != 1 || def.Lookups[0].ID != "categories" {
		t.Errorf("Lookups = %+v, want [categories]", def.Lookups)
	}
	if def.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if def.SourceFile != definitionsDir+"/categories.yaml" {
		t.Errorf("SourceFile = %q", def.SourceFile)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid_yaml(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/invalid/bad.yaml")
	if err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadFile_unknown_field(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/unknown_field/screen.yaml")
	if err == nil {
		t.Fatal("LoadFile() with an unknown key should return error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	defs, err := l.LoadAll([]string{definitionsDir})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	want := []string{"bookings", "categories", "schedules", "services", "staff", "users"}
	if len(defs) != len(want) {
		t.Fatalf("LoadAll() returned %d definitions, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.Domain != want[i] {
			t.Errorf("defs[%d].Domain = %q, want %q", i, d.Domain, want[i])
		}
	}
}

func TestLoader_LoadAll_shipped_definitions_valid(t *testing.T) {
	defs, err := NewLoader().LoadAll([]string{definitionsDir})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if errs := NewValidator().Validate(defs); len(errs) != 0 {
		t.Fatalf("Validate() = %v, want no errors", errs)
	}
}

func TestLoader_LoadAll_invalid_dir(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadAll([]string{"testdata/nonexistent"})
	if err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

func TestLoader_LoadAll_invalid_yaml(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadAll([]string{"testdata/invalid"})
	if err == nil {
		t.Fatal("LoadAll() with invalid YAML should return error")
	}
}

func TestLoader_Checksum_deterministic(t *testing.T) {
	l := NewLoader()
	def1, _ := l.LoadFile(definitionsDir + "/users.yaml")
	def2, _ := l.LoadFile(definitionsDir + "/users.yaml")
	if len(def1) != 1 || len(def2) != 1 || def1[0].Checksum != def2[0].Checksum {
		t.Error("Checksum should be deterministic")
	}
}

const roomsDomain = `domain: rooms
version: "1.0.0"
navigation: {label: Rooms, order: 90}
`

const equipmentDomain = `domain: equipment
version: "1.0.0"
navigation: {label: Equipment, order: 91}
`

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_LoadFile_multipleDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "facilities.yaml", roomsDomain+"---\n"+equipmentDomain+"---\n")

	defs, err := NewLoader().LoadFile(filepath.Join(dir, "facilities.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(defs) != 2 || defs[0].Domain != "rooms" || defs[1].Domain != "equipment" {
		t.Fatalf("LoadFile() = %+v, want rooms and equipment", defs)
	}
	if defs[0].Checksum == defs[1].Checksum {
		t.Error("documents of one file should have distinct checksums")
	}
	if !strings.HasPrefix(defs[1].Checksum, defs[0].Checksum) {
		t.Errorf("checksum %q should extend the file checksum %q", defs[1].Checksum, defs[0].Checksum)
	}
}

func TestLoader_LoadFile_empty(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "empty.yaml", "# nothing here\n")

	if _, err := NewLoader().LoadFile(filepath.Join(dir, "empty.yaml")); err == nil {
		t.Error("LoadFile() should reject a file without definitions")
	}
}

func TestLoader_LoadAll_skipsIgnoredEntries(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "rooms.yml", roomsDomain)
	writeDefinition(t, dir, "_equipment.yaml", equipmentDomain)
	writeDefinition(t, dir, ".drafts/equipment.yaml", equipmentDomain)
	writeDefinition(t, dir, "README.md", "not a definition")

	defs, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(defs) != 1 || defs[0].Domain != "rooms" {
		t.Errorf("LoadAll() = %+v, want only rooms", defs)
	}
}
