// Package reconcile turns raw detail-page attribute bags into canonical
// label/value maps. The tracker site renders field names as numbered label
// spans ("label12" -> "Estimated Amt:") detached from the spans holding the
// values, so pairing them back up takes a synonym table plus a fuzzy fallback.
package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

const labelPrefix = "label"

// synonyms maps a normalized label to the value-field names it may appear
// under, in preference order. Matches here always win over fuzzy matching.
var synonyms = map[string][]string{
	"zip":                              {"zip"},
	"address":                          {"address"},
	"office id":                        {"office"},
	"application #":                    {"application"},
	"application":                      {"application"},
	"file #":                           {"file"},
	"file":                             {"file"},
	"project name":                     {"pname", "projectname"},
	"project scope":                    {"projectscope"},
	"city":                             {"city"},
	"ptn #":                            {"ptn"},
	"opsc #":                           {"opsc"},
	"project type":                     {"projecttype"},
	"# of incr":                        {"inc"},
	"project class":                    {"pclass"},
	"special type":                     {"specialtype"},
	"estimated amt":                    {"estamt"},
	"contracted amt":                   {"contamt"},
	"construction change document amt": {"coamt"},
	"received date":                    {"recvdate"},
	"approved date":                    {"appdate"},
	"closed date":                      {"closedate"},
}

// reservedKeys are never consumed as label values; they carry provenance and
// identity and must pass through untouched.
var reservedKeys = map[string]bool{
	tracker.KeyOriginID: true,
	tracker.KeyAppID:    true,
	tracker.KeyURL:      true,
}

// Reconcile resolves the bag's numbered label markers against its candidate
// value entries. Every input value appears exactly once in the output: under
// its resolved label, or under its original key if no label consumed it.
// Labels that resolve to no value map to the empty string. Consumption is
// first-match in label-index order, exact synonym before fuzzy substring.
func Reconcile(bag *tracker.Bag) *tracker.Bag {
	out := tracker.NewBag()
	if bag == nil {
		return out
	}

	labels := collectLabels(bag)
	consumed := make(map[string]bool)

	for _, lbl := range labels {
		if lbl.text == "" {
			continue
		}
		if key, ok := exactMatch(bag, lbl.text, consumed); ok {
			v, _ := bag.Get(key)
			consumed[key] = true
			out.Set(lbl.text, v)
			continue
		}
		if key, ok := fuzzyMatch(bag, lbl.text, consumed); ok {
			v, _ := bag.Get(key)
			consumed[key] = true
			out.Set(lbl.text, v)
			continue
		}
		// Present-but-unknown, not absent.
		out.Set(lbl.text, "")
	}

	for _, key := range bag.Keys() {
		if isLabelKey(key) || consumed[key] {
			continue
		}
		if _, exists := out.Get(key); exists {
			continue
		}
		v, _ := bag.Get(key)
		out.Set(key, v)
	}
	return out
}

type labelMarker struct {
	index int
	text  string
}

// collectLabels gathers labelNN markers sorted by numeric index, trimming
// trailing punctuation from the label text.
func collectLabels(bag *tracker.Bag) []labelMarker {
	var labels []labelMarker
	for _, key := range bag.Keys() {
		if !isLabelKey(key) {
			continue
		}
		idx, err := strconv.Atoi(key[len(labelPrefix):])
		if err != nil {
			continue
		}
		v, _ := bag.Get(key)
		text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(v), ":"))
		labels = append(labels, labelMarker{index: idx, text: text})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].index < labels[j].index })
	return labels
}

func isLabelKey(key string) bool {
	if !strings.HasPrefix(key, labelPrefix) || len(key) == len(labelPrefix) {
		return false
	}
	for _, r := range key[len(labelPrefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func exactMatch(bag *tracker.Bag, label string, consumed map[string]bool) (string, bool) {
	candidates, ok := synonyms[strings.ToLower(label)]
	if !ok {
		return "", false
	}
	for _, name := range candidates {
		if consumed[name] {
			continue
		}
		if _, present := bag.Get(name); present {
			return name, true
		}
	}
	return "", false
}

// fuzzyMatch consumes the first unconsumed non-label key whose cleaned form
// contains the cleaned label as a substring, in bag order.
func fuzzyMatch(bag *tracker.Bag, label string, consumed map[string]bool) (string, bool) {
	cleanLabel := cleanToken(label)
	if cleanLabel == "" {
		return "", false
	}
	for _, key := range bag.Keys() {
		if isLabelKey(key) || consumed[key] || reservedKeys[key] {
			continue
		}
		if strings.Contains(cleanToken(key), cleanLabel) {
			return key, true
		}
	}
	return "", false
}

// cleanToken lowercases and strips spaces and the punctuation the site mixes
// into labels so "PTN #" and "table_0_ptn" can meet in the middle.
func cleanToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '_', '.', '#', ':':
			return -1
		}
		return r
	}, strings.ToLower(s))
}
