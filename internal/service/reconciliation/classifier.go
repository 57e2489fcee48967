package reconciliation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/securelens/securelens/internal/domain/elevation"
)

// Window bounds the reporting period. Start is inclusive, End exclusive,
// and a zero bound is open. Records without a timestamp are never excluded.
type Window struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// IsZero reports whether the window is unbounded.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// ClassifierOptions tunes classification.
type ClassifierOptions struct {
	// IncludeInventory lets inventory records supplement audit-derived
	// completions for (user, setting) pairs that have no audit evidence.
	IncludeInventory bool
	Window           Window
	// Workers shards record classification. Values below 2 classify
	// sequentially; the result is identical either way.
	Workers int
}

// Classification is the outcome of classifying one run's records.
type Classification struct {
	Completed []elevation.CompletedUser

	// Unauthorized counts approved audit events per setting name whose user
	// is not a member of any authorized group.
	Unauthorized map[string]int

	Unmatched     int
	NonTerminal   int
	OutsideWindow int
	Corroborated  int

	AuditRecords     int
	InventoryRecords int
}

// Classifier turns audit and inventory records into de-duplicated
// completion facts.
type Classifier struct {
	matcher ApplicationMatcher
	index   *MembershipIndex
	opts    ClassifierOptions
}

func NewClassifier(matcher ApplicationMatcher, index *MembershipIndex, opts ClassifierOptions) *Classifier {
	return &Classifier{
		matcher: matcher,
		index:   index,
		opts:    opts,
	}
}

type outcome int

const (
	outcomeQualified outcome = iota
	outcomeNonTerminal
	outcomeOutsideWindow
	outcomeUnmatched
	outcomeUnauthorized
)

// usageEvent is one qualifying record reduced to what deduplication needs.
type usageEvent struct {
	user    string
	setting string
	at      time.Time
}

type partial struct {
	events        []usageEvent
	unauthorized  map[string]int
	unmatched     map[string]int
	nonTerminal   int
	outsideWindow int
}

func newPartial() *partial {
	return &partial{
		unauthorized: make(map[string]int),
		unmatched:    make(map[string]int),
	}
}

// Classify processes the records and reports unmatched application names
// to sink as a single informational diagnostic.
func (c *Classifier) Classify(audits []elevation.AuditRecord, inventory []elevation.InventoryRecord, sink elevation.DiagnosticSink) Classification {
	if sink == nil {
		sink = elevation.DiscardDiagnostics
	}

	auditPart := c.classifyAudits(audits)

	facts := make(map[string]*elevation.CompletedUser)
	var order []string
	for _, ev := range auditPart.events {
		key := pairKey(ev.setting, ev.user)
		if _, ok := facts[key]; !ok {
			order = append(order, key)
		}
		mergeEvent(facts, key, ev, elevation.SourceAudit)
	}

	result := Classification{
		Unauthorized:     auditPart.unauthorized,
		NonTerminal:      auditPart.nonTerminal,
		OutsideWindow:    auditPart.outsideWindow,
		AuditRecords:     len(audits),
		InventoryRecords: len(inventory),
	}
	for _, n := range auditPart.unmatched {
		result.Unmatched += n
	}

	if c.opts.IncludeInventory {
		for _, ev := range c.classifyInventory(inventory) {
			key := pairKey(ev.setting, ev.user)
			if existing, ok := facts[key]; ok && existing.Source == elevation.SourceAudit {
				result.Corroborated++
				continue
			}
			if _, ok := facts[key]; !ok {
				order = append(order, key)
			}
			mergeEvent(facts, key, ev, elevation.SourceInventory)
		}
	}

	result.Completed = make([]elevation.CompletedUser, 0, len(order))
	for _, key := range order {
		fact := facts[key]
		sort.Slice(fact.EventTimes, func(i, j int) bool { return fact.EventTimes[i].Before(fact.EventTimes[j]) })
		fact.Occurrences = len(fact.EventTimes)
		result.Completed = append(result.Completed, *fact)
	}
	sort.Slice(result.Completed, func(i, j int) bool {
		a, b := result.Completed[i], result.Completed[j]
		if ka, kb := elevation.SettingKey(a.SettingName), elevation.SettingKey(b.SettingName); ka != kb {
			return ka < kb
		}
		return a.User < b.User
	})

	if result.Unmatched > 0 {
		sink.Emit(elevation.Info(elevation.KindUnmatchedRecords, "",
			fmt.Sprintf("%d approved audit records matched no configured setting (top: %s)",
				result.Unmatched, topNames(auditPart.unmatched, 5))))
	}

	return result
}

// mergeEvent folds an event into the fact for its pair, keeping the
// earliest timestamp.
func mergeEvent(facts map[string]*elevation.CompletedUser, key string, ev usageEvent, source elevation.CompletionSource) {
	fact, ok := facts[key]
	if !ok {
		fact = &elevation.CompletedUser{
			User:        ev.user,
			SettingName: ev.setting,
			FirstSeen:   ev.at,
			Source:      source,
		}
		facts[key] = fact
	}
	if fact.FirstSeen.IsZero() || (!ev.at.IsZero() && ev.at.Before(fact.FirstSeen)) {
		fact.FirstSeen = ev.at
	}
	fact.EventTimes = append(fact.EventTimes, ev.at)
}

func (c *Classifier) classifyAudits(audits []elevation.AuditRecord) *partial {
	shards := shard(len(audits), c.opts.Workers)
	parts := make([]*partial, len(shards))

	run := func(i int, bounds [2]int) {
		p := newPartial()
		for _, rec := range audits[bounds[0]:bounds[1]] {
			ev, setting, out := c.classifyAudit(rec)
			switch out {
			case outcomeQualified:
				p.events = append(p.events, ev)
			case outcomeNonTerminal:
				p.nonTerminal++
			case outcomeOutsideWindow:
				p.outsideWindow++
			case outcomeUnmatched:
				p.unmatched[rec.Target()]++
			case outcomeUnauthorized:
				p.unauthorized[setting]++
			}
		}
		parts[i] = p
	}

	if len(shards) == 1 {
		run(0, shards[0])
	} else {
		var wg sync.WaitGroup
		for i, b := range shards {
			wg.Add(1)
			go func(i int, b [2]int) {
				defer wg.Done()
				run(i, b)
			}(i, b)
		}
		wg.Wait()
	}

	merged := newPartial()
	for _, p := range parts {
		merged.events = append(merged.events, p.events...)
		merged.nonTerminal += p.nonTerminal
		merged.outsideWindow += p.outsideWindow
		for k, v := range p.unmatched {
			merged.unmatched[k] += v
		}
		for k, v := range p.unauthorized {
			merged.unauthorized[k] += v
		}
	}
	return merged
}

func (c *Classifier) classifyAudit(rec elevation.AuditRecord) (usageEvent, string, outcome) {
	if !rec.Status.IsTerminalSuccess() {
		return usageEvent{}, "", outcomeNonTerminal
	}
	if !c.opts.Window.Contains(rec.Timestamp) {
		return usageEvent{}, "", outcomeOutsideWindow
	}
	setting, ok := c.matcher.Match(rec.Target())
	if !ok {
		return usageEvent{}, "", outcomeUnmatched
	}
	user := elevation.NormalizeUser(rec.User)
	if user == "" || !c.index.IsAuthorized(setting.Name, user) {
		return usageEvent{}, setting.Name, outcomeUnauthorized
	}
	return usageEvent{user: user, setting: setting.Name, at: rec.Timestamp}, setting.Name, outcomeQualified
}

// classifyInventory returns qualifying inventory events in input order.
// Inventory carries no approval status, so only the window, setting match
// and membership checks apply.
func (c *Classifier) classifyInventory(inventory []elevation.InventoryRecord) []usageEvent {
	var events []usageEvent
	for _, rec := range inventory {
		if !c.opts.Window.Contains(rec.Timestamp) {
			continue
		}
		setting, ok := c.matcher.Match(rec.ApplicationName)
		if !ok {
			continue
		}
		user := elevation.NormalizeUser(rec.User)
		if user == "" || !c.index.IsAuthorized(setting.Name, user) {
			continue
		}
		events = append(events, usageEvent{user: user, setting: setting.Name, at: rec.Timestamp})
	}
	return events
}

func pairKey(setting, user string) string {
	return elevation.SettingKey(setting) + "\x00" + user
}

// shard splits n items into at most workers contiguous ranges.
func shard(n, workers int) [][2]int {
	if workers < 2 || n < 2 {
		return [][2]int{{0, n}}
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func topNames(counts map[string]int, limit int) string {
	type kv struct {
		name  string
		count int
	}
	items := make([]kv, 0, len(counts))
	for name, n := range counts {
		if name == "" {
			name = "<empty>"
		}
		items = append(items, kv{name, n})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].name < items[j].name
	})
	if len(items) > limit {
		items = items[:limit]
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s=%d", it.name, it.count)
	}
	return strings.Join(parts, ", ")
}
