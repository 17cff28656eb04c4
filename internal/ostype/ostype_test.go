package ostype

import (
	"errors"
	"testing"
)

func TestListFamilies(t *testing.T) {
	got := List()
	want := []Family{Linux, Other, Windows, MacOS}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		want    Family
		wantErr bool
	}{
		{"Linux", Linux, false},
		{"windows", Windows, false},
		{"MACOS", MacOS, false},
		{"Ubuntu 22.04 LTS", Linux, false},
		{"Windows Server 2019", Windows, false},
		{"macOS Sonoma", MacOS, false},
		{"FreeBSD", Other, false},
		{"Plan 9", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.name)
			if tt.wantErr {
				var unknown *ErrUnknownOSType
				if !errors.As(err, &unknown) {
					t.Errorf("Lookup(%q) error = %v, want ErrUnknownOSType", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", tt.name, err)
			}
			if p.Family != tt.want {
				t.Errorf("Lookup(%q).Family = %q, want %q", tt.name, p.Family, tt.want)
			}
		})
	}
}

func TestRecommend(t *testing.T) {
	if got := Recommend("Windows 11").RecommendedMemoryMB; got != 4096 {
		t.Errorf("Windows memory = %d, want 4096", got)
	}
	if got := Recommend("Linux").RecommendedMemoryMB; got != 2048 {
		t.Errorf("Linux memory = %d, want 2048", got)
	}
	if got := Recommend("Plan 9").Family; got != Other {
		t.Errorf("unknown falls back to %q, want Other", got)
	}
	if !IsRegistered("Arch Linux") || IsRegistered("BeOS") {
		t.Errorf("IsRegistered mismatch")
	}
	if Default() != Linux {
		t.Errorf("Default() = %q, want Linux", Default())
	}
}

func TestMemoryRating(t *testing.T) {
	tests := []struct {
		mb   int
		want string
	}{
		{512, "too little, may be slow"},
		{1024, "minimum for modern systems"},
		{2048, "recommended for general use"},
		{4096, "recommended for general use"},
		{8192, "ideal for intensive workloads"},
	}
	for _, tt := range tests {
		if got := MemoryRating(tt.mb); got != tt.want {
			t.Errorf("MemoryRating(%d) = %q, want %q", tt.mb, got, tt.want)
		}
	}
}
