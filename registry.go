package beacon

import (
	"github.com/beaconkit/beacon/plugin"
)

// pluginSet is the ordered, name-deduplicated collection of registered
// sinks. Order is registration order; Use of an existing name removes the
// old entry and appends the new one.
type pluginSet struct {
	ordered []plugin.Plugin
	byName  map[string]plugin.Plugin
}

func newPluginSet() *pluginSet {
	return &pluginSet{byName: make(map[string]plugin.Plugin)}
}

// add appends p, replacing any existing plugin of the same name. The
// replaced slot is not preserved; the new plugin goes to the end.
func (s *pluginSet) add(p plugin.Plugin) {
	name := p.Name()
	if _, exists := s.byName[name]; exists {
		s.remove(name)
	}
	s.ordered = append(s.ordered, p)
	s.byName[name] = p
}

// remove drops the named plugin. No-op when absent.
func (s *pluginSet) remove(name string) bool {
	if _, exists := s.byName[name]; !exists {
		return false
	}
	delete(s.byName, name)
	for i, p := range s.ordered {
		if p.Name() == name {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	return true
}

func (s *pluginSet) get(name string) (plugin.Plugin, bool) {
	p, ok := s.byName[name]
	return p, ok
}

func (s *pluginSet) len() int {
	return len(s.ordered)
}

// snapshot returns a copy of the ordered plugin list, safe to iterate
// outside the core's lock.
func (s *pluginSet) snapshot() []plugin.Plugin {
	out := make([]plugin.Plugin, len(s.ordered))
	copy(out, s.ordered)
	return out
}
