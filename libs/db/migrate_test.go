package db

import "testing"

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/slots?sslmode=disable":   "pgx5://u:p@localhost:5432/slots?sslmode=disable",
		"postgresql://u:p@localhost:5432/slots?sslmode=disable": "pgx5://u:p@localhost:5432/slots?sslmode=disable",
		"pgx5://localhost/slots":                                "pgx5://localhost/slots",
	}
	for in, want := range cases {
		if got := MigrateURL(in); got != want {
			t.Fatalf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
