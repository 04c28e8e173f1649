package federation

import "testing"

func TestMigrationVersion(t *testing.T) {
	cases := map[string]int64{
		"001_federation_partners.up.sql": 1,
		"014_add_index.up.sql":           14,
	}
	for name, want := range cases {
		got, err := migrationVersion(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: got %d, want %d", name, got, want)
		}
	}
	if _, err := migrationVersion("init.up.sql"); err == nil {
		t.Error("expected error for a name without a version prefix")
	}
}
