package types

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Capability is a named skill a task may require and an agent may declare.
// The set of valid tags is closed but extensible through RegisterCapability,
// so arbitrary strings never leak into routing keys.
type Capability string

// Built-in capability tags.
const (
	CapSMSIntegration      Capability = "sms-integration"
	CapEmailIntegration    Capability = "email-integration"
	CapCalendarManagement  Capability = "calendar-management"
	CapMemoryManagement    Capability = "memory-management"
	CapMessageClassify     Capability = "message-classification"
	CapTemplateRendering   Capability = "template-rendering"
	CapDataAnalysis        Capability = "data-analysis"
	CapWorkflowCoordintion Capability = "workflow-coordination"
)

var (
	capMu   sync.RWMutex
	capTags = map[Capability]struct{}{
		CapSMSIntegration:      {},
		CapEmailIntegration:    {},
		CapCalendarManagement:  {},
		CapMemoryManagement:    {},
		CapMessageClassify:     {},
		CapTemplateRendering:   {},
		CapDataAnalysis:        {},
		CapWorkflowCoordintion: {},
	}
)

// RegisterCapability adds a tag to the set of valid capabilities. Tags are
// lowercase hyphenated identifiers.
func RegisterCapability(c Capability) error {
	tag := string(c)
	if tag == "" || strings.TrimSpace(tag) != tag || tag != strings.ToLower(tag) {
		return fmt.Errorf("invalid capability tag %q", tag)
	}
	capMu.Lock()
	defer capMu.Unlock()
	capTags[c] = struct{}{}
	return nil
}

// ValidCapability reports whether the tag has been registered.
func ValidCapability(c Capability) bool {
	capMu.RLock()
	defer capMu.RUnlock()
	_, ok := capTags[c]
	return ok
}

// Capabilities returns all registered tags in sorted order.
func Capabilities() []Capability {
	capMu.RLock()
	defer capMu.RUnlock()
	out := make([]Capability, 0, len(capTags))
	for c := range capTags {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SkillSetKey returns a canonical key for a capability set, used to group
// learned patterns independent of declaration order.
func SkillSetKey(skills []Capability) string {
	tags := make([]string, len(skills))
	for i, c := range skills {
		tags[i] = string(c)
	}
	sort.Strings(tags)
	return strings.Join(tags, "+")
}
