// Package operators loads the roster of human operators whose rollouts
// should be attributed to them, mirroring ODSapper-CLIAIMONITOR's
// agents.LoadTeamsConfig YAML-load-then-index-by-name shape.
package operators

import (
	"crypto/sha1"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agent-racer/observatory/internal/model"
)

// selfOperatorID is the stable id assigned to the local machine's own
// sessions (spec.md §4.5 step 1).
const selfOperatorID = "self"

// palette is the fixed color pool operators are assigned from, in
// declaration order, wrapping once exhausted.
var palette = []string{
	"#4f8ef7", "#f77f4f", "#4ff78e", "#c74ff7", "#f7d84f", "#4fd8f7", "#f74f6e",
}

// OperatorEntry is one roster entry as written in operators.yaml.
type OperatorEntry struct {
	Name  string `yaml:"name"`
	Roots []string `yaml:"roots"`
}

// RosterConfig is the on-disk shape of operators.yaml.
type RosterConfig struct {
	Operators []OperatorEntry `yaml:"operators"`
}

// Roster is the resolved, indexed-by-name view used by the Dashboard
// Builder, including the always-present "self" entry.
type Roster struct {
	ByName map[string]model.Operator
	Order  []model.Operator
	Roots  map[string][]string // operator name -> configured discovery roots
}

// Load reads operators.yaml at path and resolves it into a Roster. A
// missing file is not an error: the roster then contains only "self"
// (spec.md §7 Configuration-class errors are treated as empty config).
func Load(path string) (*Roster, error) {
	roster := &Roster{ByName: make(map[string]model.Operator), Roots: make(map[string][]string)}
	self := model.Operator{ID: selfOperatorID, Name: "self", Color: palette[0], Online: true, IsSelf: true}
	roster.ByName[self.Name] = self
	roster.Order = append(roster.Order, self)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return roster, nil
	}
	if err != nil {
		return roster, nil
	}

	var cfg RosterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return roster, nil
	}

	for i, entry := range cfg.Operators {
		if entry.Name == "" || entry.Name == self.Name {
			continue
		}
		op := model.Operator{
			ID:     stableID(entry.Name),
			Name:   entry.Name,
			Color:  palette[(i+1)%len(palette)],
			Online: true,
		}
		roster.ByName[op.Name] = op
		roster.Order = append(roster.Order, op)
		roster.Roots[op.Name] = entry.Roots
	}
	return roster, nil
}

func stableID(name string) string {
	sum := sha1.Sum([]byte(name))
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 12)
	for i := 0; i < 6; i++ {
		out[i*2] = hexDigits[sum[i]>>4]
		out[i*2+1] = hexDigits[sum[i]&0xf]
	}
	return string(out)
}
