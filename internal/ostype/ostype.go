// Package ostype is the catalog of guest operating system families and
// the resources recommended for each.
package ostype

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Family identifies a guest OS family.
type Family string

const (
	Linux   Family = "Linux"
	Windows Family = "Windows"
	MacOS   Family = "macOS"
	Other   Family = "Other"
)

// DefaultDiskGB is the disk size suggested for new machines.
const DefaultDiskGB = 25

// Profile describes one OS family.
type Profile struct {
	Family              Family
	Versions            []string
	RecommendedMemoryMB int
	RecommendedCPUs     int
	RecommendedDiskGB   int
}

var (
	registry     = make(map[Family]Profile)
	registryLock sync.RWMutex
	defaultID    = Linux
)

func init() {
	Register(Profile{
		Family: Linux,
		Versions: []string{
			"Ubuntu 22.04 LTS", "Ubuntu 20.04 LTS",
			"Debian 12 (Bookworm)", "Debian 11 (Bullseye)",
			"Fedora 39", "CentOS 9 Stream",
			"Red Hat Enterprise Linux 9",
			"openSUSE Leap 15.5", "Arch Linux",
			"Linux Mint 21", "Other Linux",
		},
		RecommendedMemoryMB: 2048,
		RecommendedCPUs:     1,
		RecommendedDiskGB:   DefaultDiskGB,
	})
	Register(Profile{
		Family: Windows,
		Versions: []string{
			"Windows 11", "Windows 10",
			"Windows Server 2022", "Windows Server 2019",
			"Windows 8.1", "Windows 7",
			"Other Windows",
		},
		RecommendedMemoryMB: 4096,
		RecommendedCPUs:     2,
		RecommendedDiskGB:   64,
	})
	Register(Profile{
		Family: MacOS,
		Versions: []string{
			"macOS Sonoma", "macOS Ventura",
			"macOS Monterey", "macOS Big Sur",
			"Other macOS",
		},
		RecommendedMemoryMB: 4096,
		RecommendedCPUs:     2,
		RecommendedDiskGB:   64,
	})
	Register(Profile{
		Family: Other,
		Versions: []string{
			"FreeBSD", "OpenBSD", "NetBSD",
			"Solaris", "DOS", "Other",
		},
		RecommendedMemoryMB: 2048,
		RecommendedCPUs:     1,
		RecommendedDiskGB:   DefaultDiskGB,
	})
}

// Register adds or replaces a profile.
func Register(p Profile) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[p.Family] = p
}

// Get returns the profile for a family.
func Get(f Family) (Profile, error) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	p, ok := registry[f]
	if !ok {
		return Profile{}, &ErrUnknownOSType{Name: string(f)}
	}
	return p, nil
}

// Default returns the family used when none is given.
func Default() Family {
	return defaultID
}

// List returns all registered families, sorted.
func List() []Family {
	registryLock.RLock()
	defer registryLock.RUnlock()

	ids := make([]Family, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsRegistered reports whether name is a known family or version.
func IsRegistered(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

// Lookup resolves a family name or a version name to its profile.
// Family names match case-insensitively.
func Lookup(name string) (Profile, error) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	for f, p := range registry {
		if strings.EqualFold(string(f), name) {
			return p, nil
		}
	}
	for _, p := range registry {
		for _, v := range p.Versions {
			if v == name {
				return p, nil
			}
		}
	}
	return Profile{}, &ErrUnknownOSType{Name: name}
}

// Recommend returns the profile for name, or Other when name is unknown.
func Recommend(name string) Profile {
	if p, err := Lookup(name); err == nil {
		return p
	}
	p, _ := Get(Other)
	return p
}

// MemoryRating describes how adequate memoryMB is for a modern guest.
func MemoryRating(memoryMB int) string {
	switch {
	case memoryMB < 1024:
		return "too little, may be slow"
	case memoryMB < 2048:
		return "minimum for modern systems"
	case memoryMB <= 4096:
		return "recommended for general use"
	default:
		return "ideal for intensive workloads"
	}
}

// ErrUnknownOSType is returned when a name matches no family or version.
type ErrUnknownOSType struct {
	Name string
}

func (e *ErrUnknownOSType) Error() string {
	return fmt.Sprintf("unknown OS type %q, available: %v", e.Name, List())
}
