package jobs

import (
	"reflect"
	"testing"
)

func TestParseJobSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want JobSpec
	}{
		{"nixos", JobSpec{Project: "nixos"}},
		{"nixos:trunk", JobSpec{Project: "nixos", Jobset: "trunk"}},
		{"nixpkgs:trunk:tests.", JobSpec{Project: "nixpkgs", Jobset: "trunk", Prefix: "tests."}},
		{"a:b:c:d", JobSpec{Project: "a", Jobset: "b", Prefix: "c:d"}},
		{"", JobSpec{}},
		{":trunk", JobSpec{Jobset: "trunk"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseJobSpec(tt.in); got != tt.want {
				t.Fatalf("ParseJobSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandExample(t *testing.T) {
	t.Parallel()

	got := Expand(
		ParseJobSpecs([]string{"nixos:trunk"}),
		[]string{"hello"},
		[]string{"x86_64-linux", "aarch64-linux"},
		nil,
	)
	want := []Job{
		{JobsetPath: "nixos/trunk", Name: "hello.aarch64-linux"},
		{JobsetPath: "nixos/trunk", Name: "hello.x86_64-linux"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
}

func TestExpandDedupesAndSorts(t *testing.T) {
	t.Parallel()

	got := Expand(
		ParseJobSpecs([]string{"nixpkgs:trunk", "nixos:unstable:tests.", "nixpkgs:trunk"}),
		[]string{"zlib", "hello"},
		[]string{"x86_64-linux", "x86_64-linux"},
		[]string{"hello", "curl"},
	)
	want := []Job{
		{JobsetPath: "nixos/unstable", Name: "tests.curl.x86_64-linux"},
		{JobsetPath: "nixos/unstable", Name: "tests.hello.x86_64-linux"},
		{JobsetPath: "nixos/unstable", Name: "tests.zlib.x86_64-linux"},
		{JobsetPath: "nixpkgs/trunk", Name: "curl.x86_64-linux"},
		{JobsetPath: "nixpkgs/trunk", Name: "hello.x86_64-linux"},
		{JobsetPath: "nixpkgs/trunk", Name: "zlib.x86_64-linux"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
}

func TestExpandPassesEmptyComponentsThrough(t *testing.T) {
	t.Parallel()

	got := Expand([]JobSpec{ParseJobSpec(":trunk")}, []string{""}, []string{"x86_64-linux"}, nil)
	want := []Job{{JobsetPath: "/trunk", Name: ".x86_64-linux"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
}

func TestExpandEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := Expand(nil, []string{"hello"}, []string{"x86_64-linux"}, nil); len(got) != 0 {
		t.Fatalf("expected no jobs without jobsets, got %v", got)
	}
	if got := Expand(ParseJobSpecs([]string{"nixos:trunk"}), nil, []string{"x86_64-linux"}, nil); len(got) != 0 {
		t.Fatalf("expected no jobs without names, got %v", got)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := Key("nixpkgs", "trunk", "hello.x86_64-linux")
	if key != "nixpkgs:trunk:hello.x86_64-linux" {
		t.Fatalf("unexpected key %q", key)
	}
	project, jobset, job, err := ParseKey("nixos:trunk:a:b")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if project != "nixos" || jobset != "trunk" || job != "a:b" {
		t.Fatalf("ParseKey = %q %q %q", project, jobset, job)
	}
	if _, _, _, err := ParseKey("nixos/trunk"); err == nil {
		t.Fatal("expected error for key without separators")
	}
}
