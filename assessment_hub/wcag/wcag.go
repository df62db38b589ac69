// Package wcag holds the canonical WCAG success criteria reference table.
// The table is embedded at build time and never changes at runtime.
package wcag

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed criteria.yaml
var criteriaFile []byte

type Level string

const (
	LevelA   Level = "A"
	LevelAA  Level = "AA"
	LevelAAA Level = "AAA"
)

var Versions = []string{"2.0", "2.1", "2.2"}

var ErrUnknownCriterion = errors.New("unknown wcag criterion")

type Criterion struct {
	Code     string   `yaml:"code" json:"code"`
	Name     string   `yaml:"name" json:"name"`
	Level    Level    `yaml:"level" json:"level"`
	Versions []string `yaml:"versions" json:"versions"`
}

func (c *Criterion) InVersion(version string) bool {
	return slices.Contains(c.Versions, version)
}

var (
	criteria []Criterion
	byCode   map[string]Criterion
)

func init() {
	var table struct {
		Criteria []Criterion `yaml:"criteria"`
	}
	if err := yaml.Unmarshal(criteriaFile, &table); err != nil {
		panic(fmt.Sprintf("invalid embedded wcag criteria table: %v", err))
	}
	if len(table.Criteria) == 0 {
		panic("embedded wcag criteria table is empty")
	}

	criteria = table.Criteria
	slices.SortFunc(criteria, func(a, b Criterion) int {
		return CompareCodes(a.Code, b.Code)
	})

	byCode = make(map[string]Criterion, len(criteria))
	for _, c := range criteria {
		if _, ok := byCode[c.Code]; ok {
			panic(fmt.Sprintf("duplicate wcag criterion code %v", c.Code))
		}
		byCode[c.Code] = c
	}
}

// All returns every known success criterion in code order.
func All() []Criterion {
	return slices.Clone(criteria)
}

func Lookup(code string) (Criterion, error) {
	c, ok := byCode[code]
	if !ok {
		return Criterion{}, fmt.Errorf("%w: %v", ErrUnknownCriterion, code)
	}
	return c, nil
}

func ValidCode(code string) bool {
	_, ok := byCode[code]
	return ok
}

func ValidVersion(version string) bool {
	return slices.Contains(Versions, version)
}

func ValidLevel(level Level) bool {
	return level == LevelA || level == LevelAA || level == LevelAAA
}

// ForScope returns the criteria applicable to any of the given WCAG versions
// and whose level is in the given set, in code order.
func ForScope(versions []string, levels []Level) []Criterion {
	scoped := make([]Criterion, 0, len(criteria))
	for _, c := range criteria {
		if !slices.Contains(levels, c.Level) {
			continue
		}
		inScope := false
		for _, v := range versions {
			if c.InVersion(v) {
				inScope = true
				break
			}
		}
		if inScope {
			scoped = append(scoped, c)
		}
	}
	return scoped
}

// CompareCodes orders dotted criterion codes by numeric segments, so that
// "1.4.3" sorts before "1.4.10". Non-numeric segments fall back to a string
// compare, shorter codes order before their extensions.
func CompareCodes(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
			continue
		}
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	return len(as) - len(bs)
}
