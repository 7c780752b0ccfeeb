package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Language identifies one of the supported source languages.
type Language string

const (
	LanguageC      Language = "C"
	LanguagePython Language = "PYTHON"
)

// Profile is the static build/run metadata of a language.
type Profile struct {
	Compiled       bool
	Extension      string
	CompileCommand string
	RunCommand     string
}

var profiles = map[Language]Profile{
	LanguageC: {
		Compiled:       true,
		Extension:      "c",
		CompileCommand: "gcc main.c -o main",
		RunCommand:     "./main",
	},
	LanguagePython: {
		Compiled:   false,
		Extension:  "py",
		RunCommand: "python3 main.py",
	},
}

// ParseLanguage resolves a language identifier. Matching is exact.
func ParseLanguage(s string) (Language, error) {
	l := Language(s)
	if _, ok := profiles[l]; !ok {
		return "", fmt.Errorf("%w: %q, must be any of %s", ErrUnsupportedLanguage, s, strings.Join(LanguageNames(), ", "))
	}
	return l, nil
}

// Profile returns the static profile for l.
func (l Language) Profile() (Profile, error) {
	p, ok := profiles[l]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, string(l))
	}
	return p, nil
}

// LanguageNames lists the supported identifiers in a stable order.
func LanguageNames() []string {
	names := make([]string, 0, len(profiles))
	for l := range profiles {
		names = append(names, string(l))
	}
	sort.Strings(names)
	return names
}

// FileName is the name the source file gets inside the sandbox.
func (p Profile) FileName() string {
	return "main." + p.Extension
}

// Image is the name of the pre-built sandbox image for the profile.
func (p Profile) Image(prefix string) string {
	return prefix + p.Extension
}
